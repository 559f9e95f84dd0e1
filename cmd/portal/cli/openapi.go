package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soetuniversity/portal/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		outputFile string
		baseURL    string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI document",
		Long: `Generate the OpenAPI 3.1 document describing the portal API.
Upload routes are included when upload.s3_bucket is configured.`,
		Example: `  portal openapi                 # print to stdout
  portal openapi -o openapi.json  # write to file`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadSettings(viper.GetViper())
			if baseURL == "" {
				baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
			}
			doc := openapi.Generate(baseURL, versionString(), cfg.Upload.S3Bucket != "")

			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal openapi document: %w", err)
			}
			data = append(data, '\n')

			if outputFile == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(outputFile, data, 0644); err != nil {
				return fmt.Errorf("write %s: %w", outputFile, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outputFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the document to a file instead of stdout")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server URL advertised in the document")

	return cmd
}
