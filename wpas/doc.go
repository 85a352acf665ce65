// Package wpas drives Linux Wi-Fi Direct through the wpa_supplicant D-Bus
// API on the system bus.
//
// # Overview
//
// The transport resolves the P2P capable interface with GetInterface and
// then uses the fi.w1.wpa_supplicant1.Interface.P2PDevice interface:
//
//	Find / StopFind            peer discovery; DeviceFound, DeviceLost and
//	                           FindStopped signals drive the device list
//	Connect (wps_method=pbc)   group formation; GroupStarted reports the
//	                           role, GONegotiationFailure and
//	                           GroupFormationFailure report errors
//	Disconnect                 removes the group, called on the group
//	                           interface
//	Cancel                     abandons a pending or formed link
//
// Device addresses are the peer P2P device addresses in colon notation.
// The device name is read from the fi.w1.wpa_supplicant1.Peer object.
//
// Chat traffic is carried by a real.LinkMessenger bound on all interfaces.
// The group owner is always reachable at the configured group owner IP,
// which is the address wpa_supplicant assigns to the owner by default.
//
// # Requirements
//
// wpa_supplicant must run with the D-Bus control interface enabled
// (-u) and the caller needs permission to talk to fi.w1.wpa_supplicant1
// on the system bus.
package wpas
