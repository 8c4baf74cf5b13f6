package admission

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/pkg/errors"
	"github.com/tsamsiyu/themelio/pkg/problem"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

const (
	APIVersion = "admission.themelio.io/v1"
	Kind       = "AdmissionReview"
)

// Response is the decision on a Request. A denied response carries a problem, an allowed one may
// carry a JSON patch to apply to the updated state.
type Response struct {
	UID     string           `json:"uid"`
	Allowed bool             `json:"allowed"`
	Patch   json.RawMessage  `json:"patch,omitempty"`
	Problem *problem.Problem `json:"problem,omitempty"`
}

func Allow(uid string, patch json.RawMessage) *Response {
	return &Response{
		UID:     uid,
		Allowed: true,
		Patch:   patch,
	}
}

func Deny(uid string, p *problem.Problem) *Response {
	if p == nil {
		p = problem.New(problem.AdmissionFailed, "request denied")
	}
	return &Response{
		UID:     uid,
		Allowed: false,
		Problem: p,
	}
}

func (r *Response) Validate() field.ErrorList {
	var errs field.ErrorList
	path := field.NewPath("response")

	if r.UID == "" {
		errs = append(errs, field.Required(path.Child("uid"), ""))
	}
	if r.Allowed && r.Problem != nil {
		errs = append(errs, field.Forbidden(path.Child("problem"), "must be empty when allowed"))
	}
	if !r.Allowed && r.Problem == nil {
		errs = append(errs, field.Required(path.Child("problem"), "required when denied"))
	}
	if len(r.Patch) > 0 {
		if _, err := jsonpatch.DecodePatch(r.Patch); err != nil {
			errs = append(errs, field.Invalid(path.Child("patch"), string(r.Patch), err.Error()))
		}
	}

	return errs
}

// Denial returns the problem of a denied response, or nil when the response allows the request.
// A denial without a problem still counts as a denial.
func (r *Response) Denial() *problem.Problem {
	if r.Allowed {
		return nil
	}
	if r.Problem == nil {
		return problem.New(problem.AdmissionFailed, "request denied")
	}
	return r.Problem
}

// Review is the envelope exchanged with admission webhooks
type Review struct {
	APIVersion string    `json:"apiVersion"`
	Kind       string    `json:"kind"`
	Request    *Request  `json:"request,omitempty"`
	Response   *Response `json:"response,omitempty"`
}

func NewReview(req *Request) *Review {
	return &Review{
		APIVersion: APIVersion,
		Kind:       Kind,
		Request:    req,
	}
}

// Respond attaches resp to the review after checking it answers the request
func (r *Review) Respond(resp *Response) error {
	if r.Request == nil {
		return errors.New("admission review has no request")
	}
	if resp.UID != r.Request.UID {
		return errors.Errorf("admission response uid %q does not match request uid %q", resp.UID, r.Request.UID)
	}
	if errs := resp.Validate(); len(errs) > 0 {
		return errs.ToAggregate()
	}
	r.Response = resp
	return nil
}

// DryRun reports whether the reviewed request must not persist side effects
func (r *Review) DryRun() bool {
	return r.Request != nil && r.Request.DryRun
}

// Validate checks the envelope and the request of a decoded review
func (r *Review) Validate() error {
	if r.APIVersion != APIVersion || r.Kind != Kind {
		return errors.Errorf("unexpected review type %s, %s", r.APIVersion, r.Kind)
	}
	if r.Request == nil {
		return errors.New("admission review has no request")
	}
	if errs := r.Request.Validate(); len(errs) > 0 {
		return errs.ToAggregate()
	}
	return nil
}
