package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pribylovaa/go-marketplace-client/internal/apiclient"
)

func (a *app) getCmd() *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "GET an API path and print the JSON response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseParams(params)
			if err != nil {
				return err
			}

			var out json.RawMessage
			req := apiclient.Request{Method: http.MethodGet, Path: args[0], Params: q}
			if err := a.client.Do(cmd.Context(), req, &out); err != nil {
				return err
			}

			return printRaw(cmd, out)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter key=value (repeatable)")

	return cmd
}

func (a *app) postCmd() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "post <path>",
		Short: "POST a JSON body to an API path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				body = json.RawMessage(data)
			}

			var out json.RawMessage
			req := apiclient.Request{Method: http.MethodPost, Path: args[0], Body: body}
			if err := a.client.Do(cmd.Context(), req, &out); err != nil {
				return err
			}

			return printRaw(cmd, out)
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")

	return cmd
}

func parseParams(kv []string) (url.Values, error) {
	q := url.Values{}
	for _, p := range kv {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", p)
		}
		q.Add(k, v)
	}

	return q, nil
}

// printRaw печатает ответ с отступами; пустой ответ - ничего.
func printRaw(cmd *cobra.Command, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), v)
}
