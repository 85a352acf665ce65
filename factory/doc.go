// Package factory loads the wifip2p configuration and creates the
// configured peer transport.
//
// # Configuration
//
// LoadConfig reads optional .env files with godotenv and then the
// environment with envconfig, using the WIFIP2P prefix:
//
//	WIFIP2P_TRANSPORT        simulation, lan or wpas (default simulation)
//	WIFIP2P_DEVICE_NAME      advertised name (default hostname)
//	WIFIP2P_LISTEN_PORT      chat socket port (default 8988)
//	WIFIP2P_GO_INTENT        group owner intent 0..15 (default 7)
//	WIFIP2P_INTERFACE        wpa_supplicant interface (default wlan0)
//	WIFIP2P_GROUP_OWNER_IP   owner address in a P2P group (default 192.168.49.1)
//	WIFIP2P_SERVICE_TYPE     mDNS service for lan (default _wifip2p-chat._udp)
//	WIFIP2P_CONNECT_TIMEOUT  group formation bound (default 30s)
//	WIFIP2P_FIND_TIMEOUT     wpa_supplicant find duration (default 120s)
//	WIFIP2P_INBOX_SIZE       queued inbound messages (default 64)
//	WIFIP2P_FANOUT_WORKERS   concurrent owner sends (default 8)
//	WIFIP2P_SIMULATED_PEERS  echo peers on the simulated network (default 2)
//	WIFIP2P_LOG_LEVEL        logrus level (default info)
//	WIFIP2P_LOG_FORMAT       text or json (default text)
//	WIFIP2P_METRICS_ADDR     Prometheus listen address (default disabled)
//
// Values already present in the environment win over .env files.
//
// # Usage
//
//	cfg, err := factory.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := factory.ConfigureLogging(cfg); err != nil {
//	    log.Fatal(err)
//	}
//	transport, err := factory.NewTransportFactory(cfg).Create()
//
// The simulation transport joins a fresh SimulatedNetwork populated with
// echo peers, so the full discover, connect and chat flow works without a
// radio.
package factory
