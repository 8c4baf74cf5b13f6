package naming

import (
	"github.com/go-playground/validator/v10"
)

// Validation tags registered by RegisterValidations.
const (
	TagGroup         = "rgroup"
	TagName          = "rname"
	TagPlural        = "rplural"
	TagKind          = "rkind"
	TagVersion       = "rversion"
	TagLabelKey      = "rlabelkey"
	TagAnnotationKey = "rannotationkey"
)

// RegisterValidations binds the convention rules to struct tags of v.
func (c *Convention) RegisterValidations(v *validator.Validate) error {
	rules := map[string]func(string) (bool, error){
		TagGroup:         c.IsValidGroup,
		TagName:          c.IsValidName,
		TagPlural:        c.IsValidPlural,
		TagKind:          c.IsValidKind,
		TagVersion:       c.IsValidVersion,
		TagLabelKey:      c.IsValidLabelKey,
		TagAnnotationKey: c.IsValidAnnotationKey,
	}

	for tag, predicate := range rules {
		if err := v.RegisterValidation(tag, fieldLevel(predicate)); err != nil {
			return err
		}
	}
	return nil
}

func fieldLevel(predicate func(string) (bool, error)) validator.Func {
	return func(fl validator.FieldLevel) bool {
		ok, err := predicate(fl.Field().String())
		return err == nil && ok
	}
}
