package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zwy923/onebox/internal/classifier"
	"github.com/zwy923/onebox/internal/suggest"
	"github.com/zwy923/onebox/pkg/util"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "onebox",
		Short:         "Onebox operator tools",
		Long:          "Offline helpers for the onebox server: try the classifier, inspect the pattern table and mint API tokens.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("patterns", "", "pattern table file (defaults to the built-in table)")

	root.AddCommand(newClassifyCmd(), newPatternsCmd(), newTokenCmd())
	return root
}

func loadClassifier(cmd *cobra.Command) (*classifier.Classifier, error) {
	path, _ := cmd.Flags().GetString("patterns")
	if path == "" {
		return classifier.New(classifier.DefaultTable())
	}
	t, err := classifier.LoadTable(path)
	if err != nil {
		return nil, err
	}
	return classifier.New(t)
}

type classifyOutput struct {
	classifier.Decision
	SuggestedReply string `json:"suggestedReply,omitempty"`
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [text...]",
		Short: "Classify text given as arguments or on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClassifier(cmd)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}

			out := classifyOutput{Decision: c.Decide(text)}
			out.SuggestedReply, _ = suggest.NewEngine(suggest.DefaultTemplates()).Suggest(text)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func newPatternsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "Print the active pattern table as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := classifier.DefaultTable()
			if path, _ := cmd.Flags().GetString("patterns"); path != "" {
				t, err := classifier.LoadTable(path)
				if err != nil {
					return err
				}
				table = t
			}
			if _, err := classifier.New(table); err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(table)
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		secret  string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the query API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return fmt.Errorf("--secret is required")
			}
			token, err := util.GenerateJWT(subject, secret, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "JWT signing secret (JWT_SECRET on the server)")
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
