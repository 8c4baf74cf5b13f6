package admission

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/pkg/errors"
	"github.com/tsamsiyu/themelio/pkg/labels"
	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
)

// Reviewer decides on admission requests
type Reviewer interface {
	Review(ctx context.Context, req *Request) (*Response, error)
}

type ReviewerFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ReviewerFunc) Review(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

type chain struct {
	reviewers []Reviewer
}

// Chain runs reviewers in order. It stops at the first denial, applies each returned patch to
// the updated state seen by the following reviewers and answers with the concatenated patch.
func Chain(reviewers ...Reviewer) Reviewer {
	return &chain{reviewers: reviewers}
}

func (c *chain) Review(ctx context.Context, req *Request) (*Response, error) {
	current := req
	var ops []json.RawMessage

	for i, reviewer := range c.reviewers {
		resp, err := reviewer.Review(ctx, current)
		if err != nil {
			return nil, errors.Wrapf(err, "admission reviewer %d failed", i)
		}
		if resp == nil {
			return nil, errors.Errorf("admission reviewer %d returned no response", i)
		}
		if resp.UID != req.UID {
			return nil, errors.Errorf("admission reviewer %d answered uid %q for request %q", i, resp.UID, req.UID)
		}
		if errs := resp.Validate(); len(errs) > 0 {
			return nil, errors.Wrapf(errs.ToAggregate(), "admission reviewer %d returned an invalid response", i)
		}
		if !resp.Allowed {
			return Deny(req.UID, resp.Denial()), nil
		}
		if len(resp.Patch) == 0 {
			continue
		}

		if current.UpdatedState == nil {
			return nil, errors.Errorf("admission reviewer %d patched a %s request without updated state", i, req.Operation)
		}
		patched, err := ApplyPatch(current.UpdatedState, resp.Patch)
		if err != nil {
			return nil, errors.Wrapf(err, "admission reviewer %d returned a patch that does not apply", i)
		}
		next := *current
		next.UpdatedState = patched
		current = &next

		var reviewerOps []json.RawMessage
		if err := json.Unmarshal(resp.Patch, &reviewerOps); err != nil {
			return nil, errors.Wrap(err, "failed to decode admission patch")
		}
		ops = append(ops, reviewerOps...)
	}

	if len(ops) == 0 {
		return Allow(req.UID, nil), nil
	}
	patch, err := json.Marshal(ops)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode admission patch")
	}
	return Allow(req.UID, patch), nil
}

// ApplyPatch applies a JSON patch (RFC 6902) to obj and returns the patched copy
func ApplyPatch(obj *meta.Object, patch json.RawMessage) (*meta.Object, error) {
	decoded, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, problem.New(problem.InvalidPatch, err.Error())
	}

	original, err := json.Marshal(obj)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal object")
	}
	modified, err := decoded.Apply(original)
	if err != nil {
		return nil, problem.New(problem.InvalidPatch, err.Error())
	}

	out := &meta.Object{}
	if err := json.Unmarshal(modified, out); err != nil {
		return nil, problem.New(problem.InvalidPatch, fmt.Sprintf("patched object is not a resource: %v", err))
	}
	return out, nil
}

type selectorPolicy struct {
	selectors labels.Selectors
}

// NewSelectorPolicy denies requests whose updated labels do not match selectors. Requests without
// an updated state, such as DELETE, are allowed.
func NewSelectorPolicy(selectors labels.Selectors) Reviewer {
	return &selectorPolicy{selectors: selectors}
}

func (p *selectorPolicy) Review(_ context.Context, req *Request) (*Response, error) {
	if req.UpdatedState == nil {
		return Allow(req.UID, nil), nil
	}
	if !p.selectors.Matches(req.UpdatedState.Metadata.Labels) {
		return Deny(req.UID, problem.Newf(problem.AdmissionFailed,
			"labels of %s do not satisfy %q", req.Resource, p.selectors.String())), nil
	}
	return Allow(req.UID, nil), nil
}
