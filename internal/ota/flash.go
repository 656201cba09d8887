package ota

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/solatis/aadnode/internal/types"
)

// ChunkSize is the download buffer size.
const ChunkSize = 8 << 10

// Details reported to the deployment server for failed installs.
const (
	DetailsBeginFailed      = "HTTPS OTA begin failed"
	DetailsDescriptorFailed = "image descriptor read failed"
	DetailsHeaderRejected   = "image header verification failed"
	DetailsImageCorrupted   = "Image validation failed, image is corrupted"
)

// UpdateError is a failed install that must be reported as "failed" with
// Details.
type UpdateError struct {
	Details string
	Err     error
}

func (e *UpdateError) Error() string {
	return e.Details + ": " + e.Err.Error()
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

func fail(details string, err error) error {
	return &UpdateError{Details: details, Err: err}
}

// Flasher downloads an artifact into the next partition slot.
type Flasher struct {
	client            *Client
	parts             Partitions
	rejectSameVersion bool
	log               zerolog.Logger
}

// NewFlasher builds a flasher. When rejectSameVersion is set an image with
// the running version is refused.
func NewFlasher(client *Client, parts Partitions, rejectSameVersion bool, log zerolog.Logger) *Flasher {
	return &Flasher{client: client, parts: parts, rejectSameVersion: rejectSameVersion, log: log}
}

// checkHeader applies the anti-rollback and version gates.
func (f *Flasher) checkHeader(desc AppDescriptor) error {
	running := f.parts.Running()
	f.log.Info().Str("running", running.Version).Str("new", desc.Version).
		Uint32("secure_version", desc.SecureVersion).Msg("Checking image header")

	if min := f.parts.SecureVersionMin(); desc.SecureVersion < min {
		return fmt.Errorf("%w: secure version %d below minimum %d", types.ErrImageHeader, desc.SecureVersion, min)
	}
	if f.rejectSameVersion && desc.Version == running.Version {
		return fmt.Errorf("%w: version %s already running", types.ErrImageHeader, desc.Version)
	}
	return nil
}

// Flash installs the artifact at url. size is the advertised artifact size,
// 0 if unknown. A body that ends early returns types.ErrIncompleteImage and
// is not a reportable failure; every other failure is an *UpdateError.
func (f *Flasher) Flash(ctx context.Context, url string, size int64) (AppDescriptor, error) {
	resp, err := f.client.Download(ctx, url)
	if err != nil {
		return AppDescriptor{}, fail(DetailsBeginFailed, err)
	}
	defer resp.Body.Close()
	if size <= 0 {
		size = resp.ContentLength
	}

	prefix := make([]byte, PrefixSize)
	if _, err := io.ReadFull(resp.Body, prefix); err != nil {
		if errors.Is(err, types.ErrIncompleteImage) {
			return AppDescriptor{}, err
		}
		return AppDescriptor{}, fail(DetailsDescriptorFailed, err)
	}
	desc, err := ParseDescriptor(prefix)
	if err != nil {
		return desc, fail(DetailsDescriptorFailed, err)
	}
	if err := f.checkHeader(desc); err != nil {
		return desc, fail(DetailsHeaderRejected, err)
	}

	update, err := f.parts.BeginUpdate()
	if err != nil {
		return desc, fail(DetailsBeginFailed, err)
	}
	if _, err := update.Write(prefix); err != nil {
		update.Abort()
		return desc, fail(fmt.Sprintf("OTA upgrade failed: %v", err), err)
	}

	written := int64(len(prefix))
	buf := make([]byte, ChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := update.Write(buf[:n]); err != nil {
				update.Abort()
				return desc, fail(fmt.Sprintf("OTA upgrade failed: %v", err), err)
			}
			written += int64(n)
			f.log.Debug().Int64("written", written).Int64("size", size).Msg("Image bytes read")
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			update.Abort()
			if errors.Is(rerr, types.ErrIncompleteImage) {
				return desc, fmt.Errorf("read failed after %d bytes: %w", written, rerr)
			}
			return desc, fmt.Errorf("%w: read failed after %d bytes: %v", types.ErrIncompleteImage, written, rerr)
		}
	}

	if size > 0 && written != size {
		update.Abort()
		return desc, fmt.Errorf("%w: received %d of %d bytes", types.ErrIncompleteImage, written, size)
	}

	if _, err := update.Finish(); err != nil {
		if errors.Is(err, types.ErrImageInvalid) {
			return desc, fail(DetailsImageCorrupted, err)
		}
		return desc, fail(fmt.Sprintf("OTA upgrade failed: %v", err), err)
	}
	return desc, nil
}
