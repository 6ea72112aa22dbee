package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/LadislavGaza/neurai-api/internal/config"
	"github.com/LadislavGaza/neurai-api/internal/models"
	"github.com/LadislavGaza/neurai-api/internal/pacs"
	"github.com/LadislavGaza/neurai-api/pkg/logger"
)

// newRootCmd builds the command tree. opts are passed to every PACS client.
func newRootCmd(opts ...pacs.Option) *cobra.Command {
	var current *app

	root := &cobra.Command{
		Use:           "pacs",
		Short:         "Query and retrieve MR series from a DICOM PACS",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)

			current, err = newApp(cmd.Context(), cfg, opts...)
			return err
		},
	}

	flags := root.PersistentFlags()
	flags.String("host", "", "PACS host (PACS_IP)")
	flags.Int("port", 104, "PACS port (PACS_PORT)")
	flags.String("ae-title", "", "called AE title (PACS_AE_TITLE)")
	flags.String("calling-ae-title", "", "calling AE title (PACS_CALLING_AE_TITLE)")
	flags.String("log-level", "info", "log level (LOG_LEVEL)")
	flags.String("log-format", "console", "log format: console or json (LOG_FORMAT)")
	flags.String("metrics-file", "", "write Prometheus metrics to this file (METRICS_FILE)")

	appFor := func() *app { return current }
	root.AddCommand(echoCmd(appFor), patientsCmd(appFor), studiesCmd(appFor), downloadCmd(appFor))
	return root
}

// withApp runs fn with the current app and closes it afterwards, so metrics
// are exported even when the operation fails.
func withApp(appFor func() *app, fn func(cmd *cobra.Command, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a := appFor()
		err := fn(cmd, a)
		return errors.Join(err, a.close())
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func echoCmd(appFor func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "echo",
		Short: "Verify the PACS connection with C-ECHO",
		Args:  cobra.NoArgs,
		RunE: withApp(appFor, func(cmd *cobra.Command, a *app) error {
			status, err := a.service.TestConnection(cmd.Context())
			if writeErr := writeJSON(cmd.OutOrStdout(), status); writeErr != nil {
				return writeErr
			}
			return err
		}),
	}
}

// parseBirthDate accepts YYYY-MM-DD, DD.MM.YYYY or YYYYMMDD.
func parseBirthDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, "02.01.2006", "20060102"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid birth date %q", value)
}

func patientsCmd(appFor func() *app) *cobra.Command {
	var id, name, birthDate string

	cmd := &cobra.Command{
		Use:   "patients",
		Short: "Search patients by ID, name or birth date",
		Args:  cobra.NoArgs,
		RunE: withApp(appFor, func(cmd *cobra.Command, a *app) error {
			birth, err := parseBirthDate(birthDate)
			if err != nil {
				return err
			}

			patients, err := a.service.SearchPatients(cmd.Context(), models.Filter{
				PatientID:   id,
				PatientName: name,
				BirthDate:   birth,
			})
			if writeErr := writeJSON(cmd.OutOrStdout(), patients); writeErr != nil {
				return writeErr
			}
			return err
		}),
	}

	cmd.Flags().StringVar(&id, "id", "", "patient ID")
	cmd.Flags().StringVar(&name, "name", "", "patient name, matched as *name*")
	cmd.Flags().StringVar(&birthDate, "birth-date", "", "birth date (YYYY-MM-DD)")
	return cmd
}

func readExisting(path string) ([]models.ExistingStudy, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read existing studies: %w", err)
	}
	var existing []models.ExistingStudy
	if err := json.Unmarshal(raw, &existing); err != nil {
		return nil, fmt.Errorf("failed to parse existing studies %s: %w", path, err)
	}
	return existing, nil
}

func studiesCmd(appFor func() *app) *cobra.Command {
	var patientID, existingPath string

	cmd := &cobra.Command{
		Use:   "studies",
		Short: "List a patient's MR studies and series",
		Args:  cobra.NoArgs,
		RunE: withApp(appFor, func(cmd *cobra.Command, a *app) error {
			existing, err := readExisting(existingPath)
			if err != nil {
				return err
			}

			studies, err := a.service.SearchStudiesByPatient(cmd.Context(), models.Filter{PatientID: patientID}, existing)
			if writeErr := writeJSON(cmd.OutOrStdout(), studies); writeErr != nil {
				return writeErr
			}
			return err
		}),
	}

	cmd.Flags().StringVar(&patientID, "patient-id", "", "patient ID")
	cmd.Flags().StringVar(&existingPath, "existing", "", "JSON file with already imported studies")
	_ = cmd.MarkFlagRequired("patient-id")
	return cmd
}

func downloadCmd(appFor func() *app) *cobra.Command {
	var seriesUID string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Retrieve a series with C-GET",
		Args:  cobra.NoArgs,
		RunE: withApp(appFor, func(cmd *cobra.Command, a *app) error {
			result, err := a.service.Download(cmd.Context(), seriesUID, a.cfg.OutputDir)
			if writeErr := writeJSON(cmd.OutOrStdout(), result); writeErr != nil {
				return writeErr
			}
			if err == nil && result == nil {
				return errors.New("no objects received for series " + seriesUID)
			}
			return err
		}),
	}

	cmd.Flags().StringVar(&seriesUID, "series-uid", "", "SeriesInstanceUID to retrieve")
	cmd.Flags().String("out", ".", "output directory (OUTPUT_DIR)")
	_ = cmd.MarkFlagRequired("series-uid")
	return cmd
}
