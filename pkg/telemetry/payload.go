package telemetry

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// StatusOK is the only status the node reports.
const StatusOK = "OK"

// Payload is the JSON document posted each cycle. Field order is the wire order.
type Payload struct {
	ID          int64  `json:"id"`
	Fullness    int    `json:"fullness"`
	Temperature int64  `json:"temperature"`
	Humidity    int64  `json:"humidity"`
	Status      string `json:"status"`
}

// Marshal returns the compact JSON body.
func (p Payload) Marshal() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal payload")
	}
	return b, nil
}

// BuildRequest returns the exact bytes of the POST. The header set and order
// are fixed; the ingestion endpoint expects them as is.
func BuildRequest(host string, body []byte) []byte {
	req := make([]byte, 0, 128+len(host)+len(body))
	req = append(req, "POST / HTTP/1.1\r\n"...)
	req = append(req, "Host: "...)
	req = append(req, host...)
	req = append(req, "\r\n"...)
	req = append(req, "Content-Type: application/json\r\n"...)
	req = append(req, "Content-Length: "...)
	req = strconv.AppendInt(req, int64(len(body)), 10)
	req = append(req, "\r\n"...)
	req = append(req, "Connection: close\r\n"...)
	req = append(req, "\r\n"...)
	req = append(req, body...)
	return req
}
