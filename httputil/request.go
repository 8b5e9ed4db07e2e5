package httputil

import (
	"bytes"
	"io"
	"net/http"
)

// CloneRequest returns a copy of req with a fresh body so it can be sent again.
// Requests without GetBody have their body buffered and restored.
func CloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())

	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
		return clone, nil
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}

	req.Body = io.NopCloser(bytes.NewReader(data))
	clone.Body = io.NopCloser(bytes.NewReader(data))

	return clone, nil
}
