package api

// Failure messages returned in the "msg" of FAIL responses.
const (
	msgAddressSize   = "Invalid size of address"
	msgTenantSize    = "Invalid size of tenant"
	msgTokenSize     = "Invalid size of token"
	msgPollTime      = "Fail set polling time value"
	msgValueSize     = "Invalid size of value"
	msgCertBlockSize = "Max size of block cert is 512"
	msgCertNoOffset  = "Cert block len or offset not set"
	msgCertSet       = "Fail set cert block"
	msgCertGetOffset = "Cert block offset didn't set"
	msgCertOffset    = "Offset larger than cert size"
	msgSensor        = "Invalid temperature sensor"
	msgSave          = "Fail save configuration"
)
