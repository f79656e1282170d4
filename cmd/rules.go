package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"logwarden/bootstrap"
	"logwarden/core"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const maxImportFileSize = 10 * 1024 * 1024 // 10MB

// ruleFile is the layout of a rules import file.
type ruleFile struct {
	Rules []core.Rule `yaml:"rules"`
}

func newRulesCmd(opts *options) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage and run detection rules",
	}

	rulesCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Evaluate every active rule against the event store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				stop := opts.spin(cmd.ErrOrStderr(), "Evaluating rules...")
				n, err := app.Service.RunRules(ctx)
				stop()
				if err != nil {
					return fmt.Errorf("rule run failed: %w", err)
				}
				if opts.outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), map[string]int{"new_alerts": n})
				}
				successColor.Fprintf(cmd.OutOrStdout(), "✓ Rule run complete: %d new alert(s)\n", n)
				return nil
			})
		},
	})

	rulesCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				rules, err := app.Storage.RuleStorage.ListRules(ctx)
				if err != nil {
					return fmt.Errorf("failed to list rules: %w", err)
				}
				if opts.outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), rules)
				}
				printRules(cmd.OutOrStdout(), rules)
				return nil
			})
		},
	})

	rulesCmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import rules from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := readRuleFile(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				return importRules(ctx, cmd, opts, app, rules)
			})
		},
	})

	rulesCmd.AddCommand(newRuleToggleCmd(opts, "enable", "Enable a rule", true))
	rulesCmd.AddCommand(newRuleToggleCmd(opts, "disable", "Disable a rule", false))

	return rulesCmd
}

func newRuleToggleCmd(opts *options, use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <rule-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid rule id %q", args[0])
			}
			return opts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				if err := app.Storage.RuleStorage.SetRuleActive(ctx, id, active); err != nil {
					return fmt.Errorf("failed to %s rule %d: %w", use, id, err)
				}
				if !opts.quiet && !opts.outputJSON {
					successColor.Fprintf(cmd.OutOrStdout(), "✓ Rule %d %sd\n", id, use)
				}
				return nil
			})
		},
	}
}

// readRuleFile loads and parses a bounded YAML rules file.
func readRuleFile(path string) ([]core.Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot access file: %w", err)
	}
	if info.Size() > maxImportFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxImportFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, errors.New("no rules found in file")
	}
	return file.Rules, nil
}

// importRules validates and stores each rule, reporting per-rule outcomes.
// It fails if any rule was rejected.
func importRules(ctx context.Context, cmd *cobra.Command, opts *options, app *bootstrap.App, rules []core.Rule) error {
	out := cmd.OutOrStdout()
	type outcome struct {
		Name  string `json:"name"`
		ID    int64  `json:"id,omitempty"`
		Error string `json:"error,omitempty"`
	}
	results := make([]outcome, 0, len(rules))
	imported, failed := 0, 0

	for i := range rules {
		rule := &rules[i]
		err := rule.Validate()
		if err == nil {
			err = app.Storage.RuleStorage.CreateRule(ctx, rule)
		}
		if err != nil {
			failed++
			results = append(results, outcome{Name: rule.Name, Error: err.Error()})
			if !opts.outputJSON {
				errorColor.Fprintf(out, "  ✗ %s: %v\n", rule.Name, err)
			}
			continue
		}
		imported++
		results = append(results, outcome{Name: rule.Name, ID: rule.ID})
		if !opts.outputJSON && !opts.quiet {
			successColor.Fprintf(out, "  ✓ %s (id %d)\n", rule.Name, rule.ID)
		}
	}

	if opts.outputJSON {
		if err := outputAsJSON(out, map[string]interface{}{
			"imported": imported,
			"failed":   failed,
			"results":  results,
		}); err != nil {
			return err
		}
	} else if !opts.quiet {
		fmt.Fprintln(out)
		infoColor.Fprintf(out, "Imported: %d, Failed: %d\n", imported, failed)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d rules failed to import", failed, len(rules))
	}
	return nil
}
