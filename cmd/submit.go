package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"transmute/internal/apihandlers"
	"transmute/internal/models"
	"transmute/internal/util"
)

var (
	submitServer   string
	submitFormat   string
	submitOutput   string
	submitID       string
	submitInterval time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Upload a file to a running server and download the result",
	Long: `Uploads a file for conversion, polls its progress until it finishes and
saves the converted file. Polling keeps the job alive on the server; if this
command is interrupted the job is cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if submitFormat == "" {
			return errors.New("--format is required")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		client := &convertClient{base: strings.TrimSuffix(submitServer, "/"), http: &http.Client{Timeout: 5 * time.Minute}}

		job, err := client.upload(ctx, args[0], submitFormat, submitID)
		if err != nil {
			return err
		}
		fmt.Printf("Submitted job %s\n", job.ID)

		job, err = client.poll(ctx, job, submitInterval)
		if err != nil {
			if ctx.Err() != nil {
				cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if cerr := client.cancel(cancelCtx, job.ID); cerr != nil {
					log.WithError(cerr).Warn("failed to cancel job")
				}
				return fmt.Errorf("interrupted, job %s cancelled", job.ID)
			}
			return err
		}

		switch job.Status {
		case models.StatusCompleted:
		case models.StatusFailed:
			return fmt.Errorf("%s: %s", color.RedString("conversion failed"), job.Error)
		default:
			return fmt.Errorf("job %s ended %s: %s", job.ID, job.Status, job.Message)
		}

		out := submitOutput
		if out == "" {
			out = util.ReplaceExt(filepath.Base(args[0]), submitFormat)
		}
		n, err := client.download(ctx, job, out)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s (%d bytes)\n", color.GreenString("Saved"), out, n)
		return nil
	},
}

// convertClient talks to the /api/v1 endpoints of a transmute server.
type convertClient struct {
	base string
	http *http.Client
}

type apiEnvelope struct {
	Data  json.RawMessage       `json:"data"`
	Error *apihandlers.APIError `json:"error"`
}

func (c *convertClient) upload(ctx context.Context, path, format, id string) (apihandlers.JobResponse, error) {
	var job apihandlers.JobResponse
	f, err := os.Open(path)
	if err != nil {
		return job, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("format", format)
	if id != "" {
		_ = mw.WriteField("id", id)
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return job, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return job, fmt.Errorf("read input: %w", err)
	}
	if err := mw.Close(); err != nil {
		return job, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/convert", &body)
	if err != nil {
		return job, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	err = c.doJSON(req, &job)
	return job, err
}

func (c *convertClient) poll(ctx context.Context, job apihandlers.JobResponse, interval time.Duration) (apihandlers.JobResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastProgress := -1
	for !job.Status.Terminal() {
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/progress/"+job.ID, nil)
		if err != nil {
			return job, err
		}
		var next apihandlers.JobResponse
		if err := c.doJSON(req, &next); err != nil {
			return job, err
		}
		job = next
		if job.Progress != lastProgress {
			fmt.Printf("  %3d%%  %s\n", job.Progress, job.Message)
			lastProgress = job.Progress
		}
	}
	return job, nil
}

func (c *convertClient) cancel(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/cancel/"+id, nil)
	if err != nil {
		return err
	}
	var job apihandlers.JobResponse
	return c.doJSON(req, &job)
}

func (c *convertClient) download(ctx context.Context, job apihandlers.JobResponse, out string) (int64, error) {
	url := job.DownloadURL
	if url == "" {
		url = "/api/v1/download/" + job.ID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, decodeAPIError(resp)
	}

	f, err := os.Create(out)
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out)
		return 0, fmt.Errorf("write output: %w", err)
	}
	return n, nil
}

func (c *convertClient) doJSON(req *http.Request, dst any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return json.Unmarshal(env.Data, dst)
}

func decodeAPIError(resp *http.Response) error {
	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error != nil {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, env.Error.Message)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitServer, "server", "http://localhost:8080", "Base URL of the transmute server")
	submitCmd.Flags().StringVarP(&submitFormat, "format", "f", "", "Target format, e.g. mp3, png, pdf")
	submitCmd.Flags().StringVarP(&submitOutput, "output", "o", "", "Where to save the result (default: input name with the new extension)")
	submitCmd.Flags().StringVar(&submitID, "id", "", "Job id to use instead of a generated one")
	submitCmd.Flags().DurationVar(&submitInterval, "interval", time.Second, "Progress polling interval")
}
