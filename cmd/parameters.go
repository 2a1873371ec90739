package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mergestat/timediff"
	"github.com/overmindtech/health-reporter/parameters"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// listParametersCmd represents the list-parameters command
var listParametersCmd = &cobra.Command{
	Use:   "list-parameters",
	Short: "List the parameters that services are discovered from",
	Long: `Lists the names, types and modification dates of parameters, without
their values. By default this lists the health check parameters of
--project and --venue. --shared lists every parameter shared with this
account, and --prefix limits the listing to a path.`,
	RunE: ListParameters,
}

func ListParameters(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	shared := viper.GetBool("shared")
	prefix, err := listPrefix(shared, viper.GetString("prefix"), viper.GetString("project"), viper.GetString("venue"))
	if err != nil {
		return flagError{usage: fmt.Sprintf("%v\n\n%v", err, cmd.UsageString())}
	}

	awsConfig, err := authConfigFromViper().GetAWSConfig(ctx)
	if err != nil {
		return loggedError{
			err:     err,
			fields:  log.Fields{"aws-access-strategy": viper.GetString("aws-access-strategy")},
			message: "Could not create AWS config",
		}
	}

	scanner := &parameters.Scanner{Client: ssm.NewFromConfig(awsConfig)}

	infos, err := scanner.List(ctx, shared, prefix)
	if err != nil {
		return loggedError{
			err:     err,
			fields:  log.Fields{"prefix": prefix, "shared": shared},
			message: "Failed to list parameters",
		}
	}

	renderParameters(cmd.OutOrStdout(), infos)

	return nil
}

// listPrefix picks the path to list. --prefix wins, --shared alone lists
// every parameter shared with the account, otherwise the venue's components
// are listed
func listPrefix(shared bool, prefix, project, venue string) (string, error) {
	switch {
	case prefix != "":
		return prefix, nil
	case shared:
		return "", nil
	case project == "" || venue == "":
		return "", errors.New("you must specify --project and --venue, --shared or --prefix")
	default:
		return parameters.Prefix(false, project, venue), nil
	}
}

func renderParameters(w io.Writer, infos []parameters.ParameterInfo) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Name", "Type", "Last Modified"})

	for _, info := range infos {
		modified := ""
		if info.LastModifiedDate != nil {
			modified = fmt.Sprintf("%v (%v)", info.LastModifiedDate.UTC().Format("2006-01-02 15:04:05"), timediff.TimeDiff(*info.LastModifiedDate))
		}

		t.AppendRow(table.Row{info.Name, info.Type, modified})
	}

	t.Render()
}

func init() {
	rootCmd.AddCommand(listParametersCmd)

	listParametersCmd.Flags().Bool("shared", false, "List the parameters shared from the shared services account, all of them unless --prefix is set")
	listParametersCmd.Flags().String("prefix", "", "List parameters under this path instead")
	cobra.CheckErr(viper.BindPFlags(listParametersCmd.Flags()))
}
