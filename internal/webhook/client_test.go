package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tsamsiyu/themelio/pkg/admission"
	"github.com/tsamsiyu/themelio/pkg/conversion"
	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/types/definition"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
)

func widget() *meta.Object {
	return &meta.Object{
		TypeMeta: meta.TypeMeta{APIVersion: "example.com/v1", Kind: "Widget"},
		Metadata: meta.ObjectMeta{Name: "w1", Namespace: "default", Labels: map[string]string{"tier": "web"}},
		Spec:     json.RawMessage(`{"size":3}`),
	}
}

func widgetRef() meta.ResourceReference {
	return meta.ResourceReference{
		Definition: definition.NewReference("example.com", "v1", "widgets"),
		Name:       "w1",
		Namespace:  "default",
	}
}

func TestConvert(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var review conversion.Review
		require.NoError(t, json.NewDecoder(r.Body).Decode(&review))

		converted := meta.CopyObject(review.Request.Resource)
		converted.APIVersion = review.Request.DesiredAPIVersion
		review.Response = conversion.Succeed(review.Request.UID, converted)
		review.Request = nil
		_ = json.NewEncoder(w).Encode(review)
	}))
	defer server.Close()

	req, err := conversion.NewRequest("example.com/v2", widget())
	require.NoError(t, err)

	out, err := NewClient(zap.NewNop(), time.Second).Convert(context.Background(), server.URL, conversion.NewReview(req))
	require.NoError(t, err)
	require.NotNil(t, out.Response)
	assert.Equal(t, req.UID, out.Response.UID)
	assert.Equal(t, "example.com/v2", out.Response.ConvertedResource.APIVersion)
}

func TestConvertWrongEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"apiVersion":"v1","kind":"Status"}`))
	}))
	defer server.Close()

	req, err := conversion.NewRequest("example.com/v2", widget())
	require.NoError(t, err)

	_, err = NewClient(zap.NewNop(), time.Second).Convert(context.Background(), server.URL, conversion.NewReview(req))
	assert.ErrorContains(t, err, "answered with v1, Status")
}

func TestAdmission(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var review admission.Review
		require.NoError(t, json.NewDecoder(r.Body).Decode(&review))
		require.NoError(t, review.Validate())

		if review.Request.UpdatedState.Metadata.Labels["tier"] == "web" {
			require.NoError(t, review.Respond(admission.Allow(review.Request.UID,
				json.RawMessage(`[{"op":"add","path":"/metadata/annotations","value":{"checked":"yes"}}]`))))
		} else {
			require.NoError(t, review.Respond(admission.Deny(review.Request.UID,
				problem.New(problem.AdmissionFailed, "tier must be web"))))
		}
		_ = json.NewEncoder(w).Encode(review)
	}))
	defer server.Close()

	reviewer := NewClient(zap.NewNop(), time.Second).Admission(server.URL)

	req, err := admission.NewRequest(admission.OperationCreate, widgetRef(), admission.WithUpdatedState(widget()))
	require.NoError(t, err)
	resp, err := admission.Chain(reviewer).Review(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	assert.Contains(t, string(resp.Patch), "checked")

	denied := widget()
	denied.Metadata.Labels = nil
	req, err = admission.NewRequest(admission.OperationCreate, widgetRef(), admission.WithUpdatedState(denied))
	require.NoError(t, err)
	resp, err = reviewer.Review(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Allowed)
	assert.Equal(t, "tier must be web", resp.Denial().Detail)
}

func TestAdmissionFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			check: func(t *testing.T, err error) {
				var statusErr *StatusError
				require.True(t, errors.As(err, &statusErr))
				assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "failed to decode webhook")
			},
		},
		{
			name: "missing response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"apiVersion":"admission.themelio.io/v1","kind":"AdmissionReview"}`))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "without a response")
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "request failed")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			req, err := admission.NewRequest(admission.OperationDelete, widgetRef(), admission.WithOriginalState(widget()))
			require.NoError(t, err)

			_, err = NewClient(zap.NewNop(), 50*time.Millisecond).Admission(server.URL).Review(context.Background(), req)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}
