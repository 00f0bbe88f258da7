package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "recv":
		return receiverTemplate, nil
	case "send":
		return senderTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const receiverTemplate = `name = "imgdl-recv"
listen = ":7070"
# serve the link over a websocket at ws_path instead of raw tcp
websocket = false
ws_path = "/ws"
width = 144
height = 168
inbox_size = 8200
outbox_size = 64
ack_timeout = "5s"
status_addr = ":7071"
cors_origins = ["http://localhost:3000"]
# write every completed image as a png here; empty disables
output_dir = ""

[tls]
enabled = false
# require companions to present a certificate signed by ca_file
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
`

const senderTemplate = `addr = "localhost:7070"
websocket = false
ws_path = "/ws"
ack_timeout = "5s"
handshake_timeout = "10s"
dither = true

[backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
max_attempts = 5
jitter = true

[tls]
enabled = false
mutual = false
ca_file = ""
cert_file = ""
key_file = ""
server_name = ""
insecure_skip_verify = false
`
