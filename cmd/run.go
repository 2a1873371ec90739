package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/overmindtech/health-reporter/report"
	"github.com/overmindtech/health-reporter/tracing"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single health check",
	Long: `Runs one health check exactly as the Lambda function would, stores the
report in S3 and prints the function's response.`,
	RunE: Run,
}

func Run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	defer tracing.LogRecoverToReturn(ctx, "health-reporter.run")

	output := viper.GetString("output")
	if output != "json" && output != "table" {
		return flagError{usage: fmt.Sprintf("invalid --output %q, valid values: json, table\n\n%v", output, cmd.UsageString())}
	}

	r, _, err := newReporter(ctx)
	if err != nil {
		return err
	}

	res, err := r.Handle(ctx, events.CloudWatchEvent{
		DetailType: "Manual Run",
		Source:     "health-reporter",
		Time:       time.Now(),
	})
	if err != nil {
		return loggedError{
			err:     err,
			fields:  log.Fields{"project": r.Config.Project, "venue": r.Config.Venue},
			message: "Health check failed",
		}
	}

	if output == "table" {
		var rep report.Report
		if err := json.Unmarshal([]byte(res.Body), &rep); err != nil {
			return err
		}

		renderServices(cmd.OutOrStdout(), &rep)
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "    ")

	return enc.Encode(res)
}

// renderServices prints one row per service with the result of its latest
// check
func renderServices(w io.Writer, r *report.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Component", "Category", "Status", "Code", "Health Check URL"})

	for _, s := range r.Services {
		status, code := "", ""
		if n := len(s.HealthChecks); n > 0 {
			status = string(s.HealthChecks[n-1].Status)
			code = s.HealthChecks[n-1].HTTPResponseCode
		}

		t.AppendRow(table.Row{s.ComponentName, s.ComponentCategory, status, code, s.HealthCheckURL})
	}

	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%v/%v healthy", r.Healthy(), len(r.Services)), "", ""})
	// Status values are upper case already, keep the summary as written
	t.Style().Format.Footer = text.FormatDefault
	t.Render()
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("output", "json", "How to print the result. Valid values: json, table")
	cobra.CheckErr(viper.BindPFlags(runCmd.Flags()))
}
