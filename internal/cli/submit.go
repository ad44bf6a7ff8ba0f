package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/me/owl/pkg/model"
)

func newSubmitCmd() *cobra.Command {
	var (
		modelType    string
		paramsFile   string
		args         []string
		envs         []string
		captchaToken string
	)

	cmd := &cobra.Command{
		Use:   "submit <model>",
		Short: "Submit a model for benchmarking",
		Long: `Submit a hosted model id (org/name) or, with --type gguf, a direct
link to a .gguf file. Engine parameters come from --params (YAML) and
repeated --arg/--env flags; flags win over the file.`,
		Example: `  owl submit org/model --arg max_model_len=8192 --arg enforce_eager
  owl submit --type gguf https://huggingface.co/org/repo/resolve/main/model.Q4_K_M.gguf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			payload := model.ConfigPayload{}
			if paramsFile != "" {
				p, err := readParamsFile(paramsFile)
				if err != nil {
					return err
				}
				payload = p
			}
			if err := applyPairs(&payload.Args, args); err != nil {
				return fmt.Errorf("--arg: %w", err)
			}
			if err := applyPairs(&payload.Env, envs); err != nil {
				return fmt.Errorf("--env: %w", err)
			}

			req := model.CreateSubmissionRequest{
				ModelType:    model.ModelType(modelType),
				ModelID:      posArgs[0],
				Params:       payload,
				CaptchaToken: captchaToken,
			}
			if !req.ModelType.Valid() {
				return fmt.Errorf("--type must be %s or %s", model.ModelTypeHosted, model.ModelTypeFile)
			}

			resp, err := client.Post(cmd.Context(), "/api/v1/submissions/", req)
			if err != nil {
				return describeSubmitError(err)
			}

			var created model.CreateSubmissionResponse
			if err := resp.decode(&created); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submission created: %s (%s)\n", created.ID, created.Status)
			fmt.Fprintf(out, "  Model: %s\n", created.DisplayName)
			if argv := created.Params.Argv(); len(argv) > 0 {
				fmt.Fprintf(out, "  Args:  %s\n", strings.Join(argv, " "))
			}
			if env := created.Params.Environ(); len(env) > 0 {
				fmt.Fprintf(out, "  Env:   %s\n", strings.Join(env, " "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelType, "type", "t", string(model.ModelTypeHosted), "Model type (hf, gguf)")
	cmd.Flags().StringVarP(&paramsFile, "params", "p", "", "Engine parameter file (YAML with args/env maps)")
	cmd.Flags().StringArrayVar(&args, "arg", nil, "Engine argument name=value, or a bare name for a flag (repeatable)")
	cmd.Flags().StringArrayVar(&envs, "env", nil, "Environment override NAME=value (repeatable)")
	cmd.Flags().StringVar(&captchaToken, "captcha-token", os.Getenv("OWL_CAPTCHA_TOKEN"), "Captcha response token when the server requires one")
	return cmd
}

func readParamsFile(path string) (model.ConfigPayload, error) {
	var p model.ConfigPayload
	f, err := os.Open(path)
	if err != nil {
		return p, fmt.Errorf("read params: %w", err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return p, fmt.Errorf("parse params %s: %w", path, err)
	}
	return p, nil
}

// applyPairs parses name=value pairs into dst. Values that look numeric
// become numbers, true/false become booleans, and a bare name is a flag.
func applyPairs(dst *map[string]any, pairs []string) error {
	for _, pair := range pairs {
		name, raw, hasValue := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("empty name in %q", pair)
		}
		if *dst == nil {
			*dst = make(map[string]any)
		}
		if !hasValue {
			(*dst)[name] = true
			continue
		}
		(*dst)[name] = parseValue(raw)
	}
	return nil
}

func parseValue(raw string) any {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// describeSubmitError adds the server's structured hints to a rejection.
func describeSubmitError(err error) error {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("create submission: %w", err)
	}
	switch {
	case apiErr.ResetAt != nil:
		return fmt.Errorf("%w (try again after %s)", apiErr, apiErr.ResetAt.Local().Format("2006-01-02 15:04"))
	case apiErr.ConflictID != "":
		return fmt.Errorf("%w (existing: %s)", apiErr, apiErr.ConflictID)
	}
	return apiErr
}
