package types

import "errors"

// Sentinel errors for aadnode operations.
var (
	// ErrMailboxFull indicates a module mailbox has no free slot for a new event.
	ErrMailboxFull = errors.New("module mailbox is full")

	// ErrUnknownModule indicates an event destination with no registered module.
	ErrUnknownModule = errors.New("unknown module")

	// ErrNotFound indicates a missing key in the persistent store.
	ErrNotFound = errors.New("key not found")

	// ErrValueTooLong indicates a configuration string exceeds its bounded size.
	ErrValueTooLong = errors.New("value exceeds maximum size")

	// ErrFrameTooLarge indicates a command frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrRegistryFull indicates the method or topic registry has no free slot.
	ErrRegistryFull = errors.New("registry is full")

	// ErrDuplicateMethod indicates a method name is already registered.
	ErrDuplicateMethod = errors.New("method already registered")

	// ErrActionIDNotFound indicates a deploymentBase URL without an extractable action id.
	ErrActionIDNotFound = errors.New("action id not found in deployment URL")

	// ErrPathTooDeep indicates a field path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("field path exceeds maximum depth")

	// ErrFieldNotFound indicates a field path could not be resolved.
	ErrFieldNotFound = errors.New("field not found")

	// ErrUnexpectedType indicates a JSON value of the wrong kind at a known path.
	ErrUnexpectedType = errors.New("unexpected JSON value type")

	// ErrNoCredentials indicates the WiFi radio has no stored credentials.
	ErrNoCredentials = errors.New("no stored WiFi credentials")

	// ErrNotConnected indicates an operation that needs a live link or session.
	ErrNotConnected = errors.New("not connected")

	// ErrImageHeader indicates a firmware image header that fails the version gates.
	ErrImageHeader = errors.New("image header verification failed")

	// ErrImageInvalid indicates a firmware image that fails finish-time validation.
	ErrImageInvalid = errors.New("image validation failed")

	// ErrIncompleteImage indicates the download ended before the declared length.
	ErrIncompleteImage = errors.New("complete data was not received")
)
