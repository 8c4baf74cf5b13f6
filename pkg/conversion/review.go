package conversion

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
)

const (
	APIVersion = "conversion.themelio.io/v1"
	Kind       = "ConversionReview"
)

// Request asks for resource to be converted to DesiredAPIVersion. It carries the full object
// because conversion needs its content.
type Request struct {
	UID               string       `json:"uid"`
	DesiredAPIVersion string       `json:"desiredApiVersion"`
	Resource          *meta.Object `json:"resource"`
}

func NewRequest(desiredAPIVersion string, resource *meta.Object) (*Request, error) {
	req := &Request{
		UID:               uuid.NewString(),
		DesiredAPIVersion: desiredAPIVersion,
		Resource:          resource,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *Request) Validate() error {
	if r.UID == "" {
		return errors.New("conversion request uid is required")
	}
	if r.DesiredAPIVersion == "" {
		return errors.New("conversion request desiredApiVersion is required")
	}
	if r.Resource == nil {
		return errors.New("conversion request resource is required")
	}
	return nil
}

// Response carries the converted resource when Succeeded, otherwise the reasons it failed
type Response struct {
	UID               string       `json:"uid"`
	Succeeded         bool         `json:"succeeded"`
	ConvertedResource *meta.Object `json:"convertedResource,omitempty"`
	Errors            []string     `json:"errors,omitempty"`
}

func Succeed(uid string, converted *meta.Object) *Response {
	return &Response{UID: uid, Succeeded: true, ConvertedResource: converted}
}

func Fail(uid string, reasons ...string) *Response {
	return &Response{UID: uid, Succeeded: false, Errors: reasons}
}

// Validate checks resp answers req: the uid is echoed and a successful response carries a resource
// at the desired apiVersion.
func (r *Response) Validate(req *Request) error {
	if r.UID != req.UID {
		return errors.Errorf("conversion response uid %q does not match request uid %q", r.UID, req.UID)
	}
	if !r.Succeeded {
		if r.ConvertedResource != nil {
			return errors.New("failed conversion response must not carry a converted resource")
		}
		return nil
	}
	if r.ConvertedResource == nil {
		return errors.New("successful conversion response has no converted resource")
	}
	if r.ConvertedResource.APIVersion != req.DesiredAPIVersion {
		return errors.Errorf("converted resource has apiVersion %q, expected %q", r.ConvertedResource.APIVersion, req.DesiredAPIVersion)
	}
	return nil
}

// Review is the envelope exchanged with conversion webhooks
type Review struct {
	APIVersion string    `json:"apiVersion"`
	Kind       string    `json:"kind"`
	Request    *Request  `json:"request"`
	Response   *Response `json:"response,omitempty"`
}

func NewReview(req *Request) *Review {
	return &Review{
		APIVersion: APIVersion,
		Kind:       Kind,
		Request:    req,
	}
}

// Transport delivers a review to the webhook at uri and returns the answered review
type Transport interface {
	Convert(ctx context.Context, uri string, review *Review) (*Review, error)
}

type TransportFunc func(ctx context.Context, uri string, review *Review) (*Review, error)

func (f TransportFunc) Convert(ctx context.Context, uri string, review *Review) (*Review, error) {
	return f(ctx, uri, review)
}
