package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/jovian/internal/appconfig"
	"pkt.systems/jovian/internal/eventbus"
	"pkt.systems/jovian/schema"
	"pkt.systems/pslog"
)

func newExecCmd() *cobra.Command {
	var cfgPath string
	var tenant string
	var conversation string
	cmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Run code in a conversation's kernel and print the result",
		Long: "Runs code in the tenant's notebook kernel and prints the result JSON.\n" +
			"Code is taken from the argument, or from stdin when no argument is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				return errors.New("--tenant is required")
			}
			if conversation == "" {
				return errors.New("--conversation is required")
			}
			code := ""
			if len(args) == 1 {
				code = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				code = string(data)
			}
			if strings.TrimSpace(code) == "" {
				return errors.New("no code provided")
			}

			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			service, err := buildService(cfg, eventbus.New(logger), logger)
			if err != nil {
				return err
			}

			result := service.Invoke(cmd.Context(), tenant, schema.ConversationID(conversation), code)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), result)
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config.yaml")
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant name")
	cmd.Flags().StringVarP(&conversation, "conversation", "n", "", "conversation id")
	return cmd
}
