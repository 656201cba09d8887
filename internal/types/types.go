// Package types provides domain models shared across aadnode components.
//
// Zero-dependency design: types.go, deployment.go and errors.go use only the
// standard library. ID utilities in ids.go import uuid.
package types

// Payload is a raw JSON document as received from a transport.
type Payload []byte

// Protocol and resource bounds. Deployment descriptors and configuration
// strings are bounded so a hostile or buggy peer cannot grow agent memory.
const (
	// MaxChunks is the number of deployment chunks kept; extra chunks are dropped.
	MaxChunks = 3

	// MaxArtifacts is the number of artifacts kept per chunk; extra ones are dropped.
	MaxArtifacts = 3

	// MaxFieldSize bounds deployment string fields (part, version, name, filename).
	MaxFieldSize = 32

	// MaxURLSize bounds deployment and HAL link URLs.
	MaxURLSize = 256

	// MaxActionIDSize bounds the action id extracted from a deploymentBase URL,
	// including the terminator slot, so ids have at most MaxActionIDSize-1 chars.
	MaxActionIDSize = 32

	// MaxConfigStrSize bounds OTA and MQTT configuration strings; values must be shorter.
	MaxConfigStrSize = 64

	// MaxCertSize bounds the stored MQTT broker certificate.
	MaxCertSize = 4096

	// MaxCertBlock bounds one certificate block written or read by a command.
	MaxCertBlock = 512

	// MaxFrameSize is the command server receive buffer, header included.
	MaxFrameSize = 2048

	// MaxMethods bounds the command method registry.
	MaxMethods = 16

	// MaxTopics bounds the MQTT topic registry.
	MaxTopics = 12

	// MaxSensors bounds the one-wire ROM search.
	MaxSensors = 10

	// MaxPathDepth bounds field paths walked through JSON documents.
	MaxPathDepth = 16
)
