// Package json is the JSON codec for everything that leaves the process:
// WebSocket frames, Redis stream payloads and health reports. It is
// jsoniter configured to behave like encoding/json.
package json

import jsoniter "github.com/json-iterator/go"

var (
	// API is the shared codec instance.
	API = jsoniter.ConfigCompatibleWithStandardLibrary

	Marshal    = API.Marshal
	Unmarshal  = API.Unmarshal
	NewDecoder = API.NewDecoder
	NewEncoder = API.NewEncoder
)
