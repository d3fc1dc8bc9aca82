package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sireskandari/Aransite/pkg/api"
	"github.com/sireskandari/Aransite/pkg/models"
	"github.com/sireskandari/Aransite/pkg/store"
)

var (
	// generate flags
	genQuality  string
	genSearch   string
	genCamera   string
	genFrom     string
	genTo       string
	genFPS      int
	genWidth    int
	genMaxFrame int

	// status flags
	followStatus bool

	// list flags
	listSearch   string
	listPage     int
	listPageSize int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage timelapse jobs on a running server",
}

var jobsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Request a new timelapse",
	RunE:  runJobsGenerate,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Get job status",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE:  runJobsList,
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job row",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDelete,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsGenerateCmd, jobsStatusCmd, jobsListCmd, jobsDeleteCmd)

	f := jobsGenerateCmd.Flags()
	f.StringVar(&genQuality, "quality", "", "quality tier: low, medium or high")
	f.StringVar(&genSearch, "search", "", "frame label filter")
	f.StringVar(&genCamera, "camera", "", "camera id filter")
	f.StringVar(&genFrom, "from", "", "window start (RFC3339)")
	f.StringVar(&genTo, "to", "", "window end (RFC3339)")
	f.IntVar(&genFPS, "fps", 0, "frames per second override")
	f.IntVar(&genWidth, "width", 0, "output width override")
	f.IntVar(&genMaxFrame, "max-frames", 0, "frame cap override")

	jobsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll job status every 2 seconds until it is terminal")

	jobsListCmd.Flags().StringVar(&listSearch, "search", "", "match against the artifact path")
	jobsListCmd.Flags().IntVar(&listPage, "page", 1, "page number")
	jobsListCmd.Flags().IntVar(&listPageSize, "page-size", store.DefaultPageSize, "rows per page (max 100)")
}

func runJobsGenerate(cmd *cobra.Command, _ []string) error {
	req := models.GenerateRequest{Quality: genQuality, Search: genSearch, CameraID: genCamera}

	var err error
	if req.FromUTC, err = parseTimeFlag("from", genFrom); err != nil {
		return err
	}
	if req.ToUTC, err = parseTimeFlag("to", genTo); err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("fps") {
		req.FPS = &genFPS
	}
	if flags.Changed("width") {
		req.Width = &genWidth
	}
	if flags.Changed("max-frames") {
		req.MaxFrames = &genMaxFrame
	}

	var resp api.GenerateResponse
	_, err = doJSON(cmd.Context(), "POST", "/api/v1/timelapse/generate-from-edge", req, &resp)
	if err != nil && resp.ID == "" {
		return err
	}

	if done, perr := printStructured(os.Stdout, resp); done || perr != nil {
		if perr != nil {
			return perr
		}
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job ID", resp.ID)
	table.Append("Status", string(resp.Status))
	if resp.Error != "" {
		table.Append("Error", resp.Error)
	}
	table.Render()
	return err
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	id := args[0]
	if !followStatus {
		job, err := fetchJob(cmd.Context(), id)
		if err != nil {
			return err
		}
		return displayJob(job)
	}

	fmt.Printf("Following job %s (press Ctrl+C to stop)...\n\n", id)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		job, err := fetchJob(cmd.Context(), id)
		if err != nil {
			return err
		}
		if models.IsTerminalState(job.Status) {
			return displayJob(job)
		}
		fmt.Printf("%s  %s\n", time.Now().Format(time.TimeOnly), job.Status)

		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func fetchJob(ctx context.Context, id string) (*models.Timelapse, error) {
	var job models.Timelapse
	if _, err := doJSON(ctx, "GET", "/api/v1/timelapse/"+url.PathEscape(id), nil, &job); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			return nil, fmt.Errorf("job %s not found", id)
		}
		return nil, err
	}
	return &job, nil
}

func displayJob(job *models.Timelapse) error {
	if done, err := printStructured(os.Stdout, job); done || err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job ID", job.ID)
	table.Append("Status", string(job.Status))
	table.Append("Quality", job.Quality)
	table.Append("Camera", job.CameraID)
	table.Append("Created", job.CreatedUTC.Format(time.RFC3339))
	if job.StartedUTC != nil {
		table.Append("Started", job.StartedUTC.Format(time.RFC3339))
	}
	if job.CompletedUTC != nil {
		table.Append("Completed", job.CompletedUTC.Format(time.RFC3339))
		if job.StartedUTC != nil {
			table.Append("Duration", job.CompletedUTC.Sub(*job.StartedUTC).Round(time.Second).String())
		}
	}
	if job.Status == models.StatusCompleted {
		table.Append("File", job.FilePath)
		table.Append("Size (bytes)", job.FileSize)
		table.Append("Stream URL", serverURL()+"/api/v1/timelapse/"+job.ID+"/stream")
	}
	if job.ErrorMessage != "" {
		table.Append("Error", job.ErrorMessage)
	}
	table.Render()
	return nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	q := url.Values{}
	if listSearch != "" {
		q.Set("search", listSearch)
	}
	q.Set("page", strconv.Itoa(listPage))
	q.Set("pageSize", strconv.Itoa(listPageSize))

	var page store.Page
	if _, err := doJSON(cmd.Context(), "GET", "/api/v1/timelapse?"+q.Encode(), nil, &page); err != nil {
		return err
	}

	if done, err := printStructured(os.Stdout, page); done || err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job ID", "Status", "Quality", "Camera", "Size", "Created", "Error")
	for _, job := range page.Items {
		errMsg := job.ErrorMessage
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}
		table.Append(job.ID, string(job.Status), job.Quality, job.CameraID, job.FileSize,
			job.CreatedUTC.Format("2006-01-02 15:04:05"), errMsg)
	}
	table.Render()
	fmt.Printf("\nPage %d, %d of %d jobs\n", page.Page, len(page.Items), page.Total)
	return nil
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	if _, err := doJSON(cmd.Context(), "DELETE", "/api/v1/timelapse/"+url.PathEscape(args[0]), nil, nil); err != nil {
		return err
	}
	fmt.Printf("Job %s deleted\n", args[0])
	return nil
}

func parseTimeFlag(name, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &t, nil
}
