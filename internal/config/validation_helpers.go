package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	unmterrors "github.com/njdelapaz/Translation-Without-Supervision/pkg/errors"
)

// ValidateConfig performs schema and cross-field validation on the configuration.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return unmterrors.NewValidationError("config", "configuration is nil", nil)
	}

	if err := validatorInstance().Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	if cfg.Source.Lang == cfg.Target.Lang {
		return unmterrors.NewValidationError("target.lang", fmt.Sprintf("must differ from source language %q", cfg.Source.Lang), nil)
	}

	for _, name := range ToolStages {
		tool, ok := cfg.Stages[name]
		if !ok {
			return unmterrors.NewValidationError(fieldForStage(name, ""), "no tool configured for stage", nil)
		}
		if err := validateTool(fieldForStage(name, ""), tool); err != nil {
			return err
		}
	}

	if err := validateTool("backtranslation.translate", cfg.Backtranslation.Translate); err != nil {
		return err
	}
	return validateTool("backtranslation.retrain", cfg.Backtranslation.Retrain)
}

func validateTool(field string, tool Tool) error {
	switch {
	case len(tool.Commands) == 0 && !tool.IsPassthrough():
		return unmterrors.NewValidationError(field, "either commands or passthrough is required", nil)
	case len(tool.Commands) > 0 && tool.IsPassthrough():
		return unmterrors.NewValidationError(field, "commands and passthrough are mutually exclusive", nil)
	}
	return nil
}

// convertValidationError normalizes validator errors into validation errors.
func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		if ve.Tag() == "stage_ref" {
			known := append([]string(nil), ToolStages...)
			sort.Strings(known)
			msg = fmt.Sprintf("unknown stage %q (known: %s)", ve.Value(), strings.Join(known, ", "))
		}
		return unmterrors.NewValidationError(field, msg, err)
	}

	return unmterrors.NewValidationError("config", err.Error(), err)
}

func yamlishFieldName(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	parts := strings.Split(ns, ".")
	var lowered []string
	for _, part := range parts {
		lowered = append(lowered, strings.ToLower(part))
	}
	return strings.Join(lowered, ".")
}

func fieldForStage(name, field string) string {
	if field == "" {
		return fmt.Sprintf("stages.%s", name)
	}
	return fmt.Sprintf("stages.%s.%s", name, field)
}
