package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vibast-solutions/ms-go-settlements/app/msisdn"
)

var operatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Mobile money operator tools",
}

var operatorDetectCmd = &cobra.Command{
	Use:   "detect <phone>",
	Short: "Print the mobile money operator for a phone number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		normalized, err := msisdn.Normalize(args[0])
		if err != nil {
			return err
		}
		operator := msisdn.DetectOperator(normalized)
		if operator == msisdn.OperatorUndetected {
			operator = "UNDETECTED"
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", normalized, operator)
		return err
	},
}

func init() {
	rootCmd.AddCommand(operatorCmd)
	operatorCmd.AddCommand(operatorDetectCmd)
}
