package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// maxBodyBytes caps request bodies; billing payloads are small.
const maxBodyBytes = 1 << 20

// DecodeJSON parses a JSON request body into v. An empty body leaves v at
// its zero value so endpoints with all-optional fields accept bare posts.
func DecodeJSON(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}
