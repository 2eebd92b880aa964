package config

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ToolStages names every stage configured under `stages`. The iterative
// backtranslation stage is configured in its own section.
var ToolStages = []string{
	"preprocess",
	"train-lm",
	"train-embeddings",
	"map-embeddings",
	"induce-phrase-table",
	"build-initial-model",
	"tune",
	"generate-bitext",
	"train-nmt",
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	langPattern = regexp.MustCompile(`^[a-z]{2,3}(?:-[A-Za-z0-9]{2,8})?$`)
	stageNames  = func() map[string]struct{} {
		names := make(map[string]struct{}, len(ToolStages))
		for _, name := range ToolStages {
			names[name] = struct{}{}
		}
		return names
	}()
)

// validatorInstance configures and returns the shared validator instance used across the config package.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("lang", func(fl validator.FieldLevel) bool {
			return langPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("stage_ref", func(fl validator.FieldLevel) bool {
			_, ok := stageNames[fl.Field().String()]
			return ok
		})

		validateInst = v
	})

	return validateInst
}

// GetValidator returns a configured validator instance for use outside the config package.
func GetValidator() *validator.Validate {
	return validatorInstance()
}
