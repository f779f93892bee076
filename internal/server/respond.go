package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/pipeline"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with an envelope describing err, for failures that
// happen before or outside a stage run.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, common.HTTPStatus(err), pipeline.ErrorEnvelope(err))
}

// readLimited reads at most limit bytes of the request body.
func readLimited(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	var rd io.Reader = r.Body
	if limit > 0 {
		rd = http.MaxBytesReader(w, r.Body, limit)
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, common.NewAppError(common.KindPayloadTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", mbe.Limit), err)
		}
		return nil, common.ValidationErrorf("read request body: %v", err)
	}
	return b, nil
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
