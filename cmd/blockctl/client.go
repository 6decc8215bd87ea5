package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/CharanSaiVaddi/blockctl/internal/api"
	"github.com/CharanSaiVaddi/blockctl/internal/worker"
)

// apiClient talks to a running `blockctl serve`.
type apiClient struct {
	base string
	http *http.Client
}

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Errors  []string        `json:"errors"`
	Data    json.RawMessage `json:"data"`
}

type actionData struct {
	Message string        `json:"message"`
	Job     worker.Status `json:"job"`
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s response (%d): %w", path, resp.StatusCode, err)
	}
	if env.Status != "success" {
		msg := env.Message
		if len(env.Errors) > 0 {
			msg += ": " + strings.Join(env.Errors, "; ")
		}
		return errors.New(msg)
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (c *apiClient) start(ctx context.Context, req api.StartJobRequest) (actionData, error) {
	var out actionData
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs", req, &out)
	return out, err
}

func (c *apiClient) control(ctx context.Context, action string) (actionData, error) {
	var out actionData
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+action, nil, &out)
	return out, err
}

func (c *apiClient) status(ctx context.Context) (worker.Status, error) {
	var out worker.Status
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/status", nil, &out)
	return out, err
}

func clientFor(cmd *cli.Command) (*apiClient, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newAPIClient(cfg.APIURL), nil
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: blockctl start [--mode mute|block] [--threads] [--note text] <post-id>")
	}
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	out, err := c.start(ctx, api.StartJobRequest{
		SourceID:              cmd.Args().First(),
		Mode:                  cmd.String("mode"),
		IncludeThreadBlocking: cmd.Bool("threads"),
		CustomNote:            cmd.String("note"),
	})
	if err != nil {
		return err
	}
	fmt.Println(out.Message)
	return nil
}

func controlAction(action string) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		c, err := clientFor(cmd)
		if err != nil {
			return err
		}
		out, err := c.control(ctx, action)
		if err != nil {
			return err
		}
		fmt.Println(out.Message)
		return nil
	}
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	c, err := clientFor(cmd)
	if err != nil {
		return err
	}
	st, err := c.status(ctx)
	if err != nil {
		return err
	}
	renderStatus(os.Stdout, st)
	return nil
}

func renderStatus(w io.Writer, st worker.Status) {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	table.Append("State", st.State.String())
	table.Append("Processing", strconv.FormatBool(st.IsProcessing))
	if st.IsProcessing {
		table.Append("Posts", strings.Join(st.SourceIDs, ", "))
		table.Append("Mode", st.Mode.String())
		table.Append("Progress", fmt.Sprintf("%d / %d", st.ProcessedCount+st.SkippedCount, st.TotalCount))
		table.Append("Skipped", strconv.Itoa(st.SkippedCount))
		table.Append("Errors", strconv.Itoa(st.ErrorCount))
	}
	table.Render()
}
