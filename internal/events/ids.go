package events

import "fmt"

// ModuleID names an event destination. Values are contiguous so the router can
// index them directly.
type ModuleID uint8

const (
	AppManager ModuleID = iota
	NetworkManager
	WifiDrv
	TCPServer
	OTA
	MQTTApp
	DevManager
	TempDrv

	// ModuleCount is the number of module ids; it is not a valid destination.
	ModuleCount
)

var moduleNames = [ModuleCount]string{
	AppManager:     "APP_MANAGER",
	NetworkManager: "NETWORK_MANAGER",
	WifiDrv:        "WIFI_DRV",
	TCPServer:      "TCP_SERVER",
	OTA:            "OTA",
	MQTTApp:        "MQTT_APP",
	DevManager:     "DEV_MANAGER",
	TempDrv:        "TEMP_DRV",
}

func (id ModuleID) String() string {
	if id < ModuleCount {
		return moduleNames[id]
	}
	return fmt.Sprintf("MODULE(%d)", uint8(id))
}

// Valid reports whether id addresses a real module.
func (id ModuleID) Valid() bool {
	return id < ModuleCount
}

// MsgID identifies what an event asks its destination to do.
type MsgID uint16

const (
	MsgNone MsgID = iota

	// Common lifecycle, understood by every module.
	InitReq
	InitRes
	DeinitReq

	// App manager.
	AppManagerInitReq
	AppManagerInitRes
	AppManagerTimeoutInit
	AppManagerTempSensorsScanRes

	// Network manager.
	NetworkManagerInitRes
	NetworkManagerTimeoutInit
	NetworkManagerWifiInitRes
	NetworkManagerWifiConnectRes
	NetworkManagerWifiDisconnected
	NetworkManagerTCPServerClientStatus
	NetworkManagerReconnect

	// WiFi driver.
	WifiConnectReq
	WifiConnectRes
	WifiDisconnectReq
	WifiDisconnectRes
	WifiScanReq
	WifiScanRes
	WifiWPSReq
	WifiWPSRes
	WifiTimeoutConnect
	WifiUpdateInfo

	// TCP command server.
	TCPServerEthernetConnected
	TCPServerEthernetDisconnected
	TCPServerPrepareSocket
	TCPServerWaitConnection
	TCPServerWaitClientData
	TCPServerCloseSocket

	// OTA manager.
	OTAPollServer
	OTAPostConfigData
	OTADownloadImage
	OTAPostResult

	// MQTT application.
	MQTTEthConnected
	MQTTEthDisconnected
	MQTTConnect
	MQTTConnected
	MQTTDisconnect
	MQTTUpdateConfig
	MQTTPostData
	MQTTMessage
	MQTTTimeoutConnect

	// Temperature driver.
	TempScanDevicesReq
	TempScanDevicesRes
	TempStartMeasure
	TempStopMeasure
	TempMeasureReq

	// Device manager.
	DevManagerMeasure
	DevManagerPost

	msgCount
)

var msgNames = [msgCount]string{
	MsgNone:                             "NONE",
	InitReq:                             "INIT_REQ",
	InitRes:                             "INIT_RES",
	DeinitReq:                           "DEINIT_REQ",
	AppManagerInitReq:                   "APP_MANAGER_INIT_REQ",
	AppManagerInitRes:                   "APP_MANAGER_INIT_RES",
	AppManagerTimeoutInit:               "APP_MANAGER_TIMEOUT_INIT",
	AppManagerTempSensorsScanRes:        "APP_MANAGER_TEMP_SENSORS_SCAN_RES",
	NetworkManagerInitRes:               "NETWORK_MANAGER_INIT_RES",
	NetworkManagerTimeoutInit:           "NETWORK_MANAGER_TIMEOUT_INIT",
	NetworkManagerWifiInitRes:           "NETWORK_MANAGER_WIFI_INIT_RES",
	NetworkManagerWifiConnectRes:        "NETWORK_MANAGER_WIFI_CONNECT_RES",
	NetworkManagerWifiDisconnected:      "NETWORK_MANAGER_WIFI_DISCONNECTED",
	NetworkManagerTCPServerClientStatus: "NETWORK_MANAGER_TCP_SERVER_CLIENT_STATUS",
	NetworkManagerReconnect:             "NETWORK_MANAGER_RECONNECT",
	WifiConnectReq:                      "WIFI_CONNECT_REQ",
	WifiConnectRes:                      "WIFI_CONNECT_RES",
	WifiDisconnectReq:                   "WIFI_DISCONNECT_REQ",
	WifiDisconnectRes:                   "WIFI_DISCONNECT_RES",
	WifiScanReq:                         "WIFI_SCAN_REQ",
	WifiScanRes:                         "WIFI_SCAN_RES",
	WifiWPSReq:                          "WIFI_WPS_REQ",
	WifiWPSRes:                          "WIFI_WPS_RES",
	WifiTimeoutConnect:                  "WIFI_TIMEOUT_CONNECT",
	WifiUpdateInfo:                      "WIFI_UPDATE_WIFI_INFO",
	TCPServerEthernetConnected:          "TCP_SERVER_ETHERNET_CONNECTED",
	TCPServerEthernetDisconnected:       "TCP_SERVER_ETHERNET_DISCONNECTED",
	TCPServerPrepareSocket:              "TCP_SERVER_PREPARE_SOCKET",
	TCPServerWaitConnection:             "TCP_SERVER_WAIT_CONNECTION",
	TCPServerWaitClientData:             "TCP_SERVER_WAIT_CLIENT_DATA",
	TCPServerCloseSocket:                "TCP_SERVER_CLOSE_SOCKET",
	OTAPollServer:                       "OTA_POLL_SERVER",
	OTAPostConfigData:                   "OTA_POST_CONFIG_DATA",
	OTADownloadImage:                    "OTA_DOWNLOAD_IMAGE",
	OTAPostResult:                       "OTA_POST_OTA_RESULT",
	MQTTEthConnected:                    "MQTT_ETH_CONNECTED",
	MQTTEthDisconnected:                 "MQTT_ETH_DISCONNECTED",
	MQTTConnect:                         "MQTT_APP_CONNECT",
	MQTTConnected:                       "MQTT_APP_CONNECTED",
	MQTTDisconnect:                      "MQTT_APP_DISCONNECT",
	MQTTUpdateConfig:                    "MQTT_APP_UPDATE_CONFIG",
	MQTTPostData:                        "MQTT_APP_POST_DATA",
	MQTTMessage:                         "MQTT_APP_MESSAGE",
	MQTTTimeoutConnect:                  "MQTT_APP_TIMEOUT_CONNECT",
	TempScanDevicesReq:                  "TEMPERATURE_SCAN_DEVICES_REQ",
	TempScanDevicesRes:                  "TEMPERATURE_SCAN_DEVICES_RES",
	TempStartMeasure:                    "TEMPERATURE_START_MEASURE",
	TempStopMeasure:                     "TEMPERATURE_STOP_MEASURE",
	TempMeasureReq:                      "TEMPERATURE_MEASURE_REQ",
	DevManagerMeasure:                   "DEV_MANAGER_MEASURE",
	DevManagerPost:                      "DEV_MANAGER_POST",
}

func (id MsgID) String() string {
	if id < msgCount {
		return msgNames[id]
	}
	return fmt.Sprintf("MSG(%d)", uint16(id))
}
