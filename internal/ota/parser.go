package ota

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/solatis/aadnode/internal/jsonpath"
	"github.com/solatis/aadnode/internal/types"
)

/*
 * Parsers for the deployment server's HAL+JSON documents.
 *
 * Both parsers are tolerant: unknown members are ignored, a member with the
 * wrong type or an over-long string is treated as absent, and arrays beyond
 * MaxChunks/MaxArtifacts are truncated. Only malformed JSON or a non-object
 * top level is an error.
 */

// Links are the actions offered by a poll response. Empty means absent.
type Links struct {
	ConfigData     string
	DeploymentBase string
}

var (
	configDataPath     = jsonpath.MustParse("_links.configData.href")
	deploymentBasePath = jsonpath.MustParse("_links.deploymentBase.href")

	downloadPath = jsonpath.MustParse("deployment.download")
	updatePath   = jsonpath.MustParse("deployment.update")
	chunksPath   = jsonpath.MustParse("deployment.chunks")

	// Relative to a chunk or artifact element.
	downloadHTTPPath = jsonpath.MustParse("_links.download-http.href")
	partKey          = types.PathSegment{Key: "part"}
	versionKey       = types.PathSegment{Key: "version"}
	nameKey          = types.PathSegment{Key: "name"}
	artifactsKey     = types.PathSegment{Key: "artifacts"}
	filenameKey      = types.PathSegment{Key: "filename"}
	sizeKey          = types.PathSegment{Key: "size"}
)

func decodeObject(body []byte) (map[string]any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level is %s", types.ErrUnexpectedType, jsonpath.KindOf(doc))
	}
	return obj, nil
}

// boundedString returns the string at path when it fits limit bytes.
func boundedString(doc any, path []types.PathSegment, limit int) string {
	s, err := jsonpath.StringAt(doc, path)
	if err != nil {
		return ""
	}
	if len(s) > limit {
		log.Warn().Int("len", len(s)).Int("limit", limit).Msg("Field too long, ignored")
		return ""
	}
	return s
}

// ParseLinks extracts configData and deploymentBase hrefs from a poll response.
func ParseLinks(body []byte) (Links, error) {
	doc, err := decodeObject(body)
	if err != nil {
		return Links{}, err
	}
	return Links{
		ConfigData:     boundedString(doc, configDataPath, types.MaxURLSize),
		DeploymentBase: boundedString(doc, deploymentBasePath, types.MaxURLSize),
	}, nil
}

// ParseDeployment decodes a deploymentBase document.
func ParseDeployment(body []byte) (types.Deployment, error) {
	var dep types.Deployment
	doc, err := decodeObject(body)
	if err != nil {
		return dep, err
	}

	dep.Download = types.ParseAction(boundedString(doc, downloadPath, types.MaxFieldSize))
	dep.Update = types.ParseAction(boundedString(doc, updatePath, types.MaxFieldSize))

	n := jsonpath.Len(doc, chunksPath)
	if n > types.MaxChunks {
		log.Warn().Int("chunks", n).Msg("Deployment chunks truncated")
		n = types.MaxChunks
	}
	for i := range n {
		dep.Chunks = append(dep.Chunks, parseChunk(doc, jsonpath.Join(chunksPath, types.Index(i))))
	}
	return dep, nil
}

// parseChunk reads the chunk at path. A chunk that is not an object yields
// empty fields.
func parseChunk(doc any, path []types.PathSegment) types.Chunk {
	c := types.Chunk{
		Part:    boundedString(doc, jsonpath.Join(path, partKey), types.MaxFieldSize),
		Version: boundedString(doc, jsonpath.Join(path, versionKey), types.MaxFieldSize),
		Name:    boundedString(doc, jsonpath.Join(path, nameKey), types.MaxFieldSize),
	}

	artifacts := jsonpath.Join(path, artifactsKey)
	n := jsonpath.Len(doc, artifacts)
	if n > types.MaxArtifacts {
		log.Warn().Int("artifacts", n).Msg("Chunk artifacts truncated")
		n = types.MaxArtifacts
	}
	for i := range n {
		c.Artifacts = append(c.Artifacts, parseArtifact(doc, jsonpath.Join(artifacts, types.Index(i))))
	}
	return c
}

func parseArtifact(doc any, path []types.PathSegment) types.Artifact {
	a := types.Artifact{
		Filename:     boundedString(doc, jsonpath.Join(path, filenameKey), types.MaxFieldSize),
		DownloadHTTP: boundedString(doc, jsonpath.Join(path, downloadHTTPPath...), types.MaxURLSize),
	}
	if v, err := jsonpath.Lookup(jsonpath.Join(path, sizeKey), doc); err == nil {
		if n, err := jsonpath.AsInt(v); err == nil {
			a.Size = n
		}
	}
	return a
}
