// Package format renders CLI results as plain text or JSON.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
	"github.com/xraph/backlog/stream"
)

// Mode is the output format.
type Mode string

const (
	ModeText Mode = "text"
	ModeJSON Mode = "json"
)

// ListTimeLayout is the timestamp layout of one `jobs list` line.
const ListTimeLayout = "2006-01-02T15:04:05"

// Formatter writes command results to stdout and diagnostics to stderr.
type Formatter struct {
	stdout io.Writer
	stderr io.Writer
	mode   Mode
	color  bool
}

// New creates a Formatter.
func New(stdout, stderr io.Writer, mode Mode, color bool) *Formatter {
	return &Formatter{stdout: stdout, stderr: stderr, mode: mode, color: color}
}

// ParseMode converts a string to a Mode. Unknown values mean text.
func ParseMode(s string) Mode {
	if strings.EqualFold(s, string(ModeJSON)) {
		return ModeJSON
	}
	return ModeText
}

// Mode returns the output mode.
func (f *Formatter) Mode() Mode { return f.mode }

// PrintJSON writes data as indented JSON to stdout.
func (f *Formatter) PrintJSON(data any) error {
	enc := json.NewEncoder(f.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// ListLine renders one job as `<enqueued> <id> <queue> ["title"]`.
func ListLine(j *job.Job) string {
	line := fmt.Sprintf("%s %s %s", j.EnqueuedAt.UTC().Format(ListTimeLayout), j.ID, j.Queue)
	if j.HasTitle() {
		line += " " + strconv.Quote(j.Title)
	}
	return line
}

// PrintJobs writes one line per job, or a JSON array.
func (f *Formatter) PrintJobs(jobs []*job.Job) error {
	if f.mode == ModeJSON {
		if jobs == nil {
			jobs = []*job.Job{}
		}
		return f.PrintJSON(jobs)
	}
	for _, j := range jobs {
		if _, err := fmt.Fprintln(f.stdout, ListLine(j)); err != nil {
			return err
		}
	}
	return nil
}

// jobView is the detailed representation printed by `jobs show`.
type jobView struct {
	ID          string     `json:"id"`
	Queue       string     `json:"queue"`
	Title       string     `json:"title,omitempty"`
	Function    string     `json:"function"`
	Args        any        `json:"args"`
	State       job.State  `json:"state"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	RunAt       time.Time  `json:"run_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	Attempts    int        `json:"attempts"`
	MaxRetries  int        `json:"max_retries"`
	LastError   string     `json:"last_error,omitempty"`
	WorkerID    string     `json:"worker_id,omitempty"`
}

func viewOf(j *job.Job) jobView {
	v := jobView{
		ID:          j.ID.String(),
		Queue:       j.Queue,
		Title:       j.Title,
		Function:    j.Name,
		Args:        decodeArgs(j.Codec, j.Payload),
		State:       j.State,
		EnqueuedAt:  j.EnqueuedAt,
		RunAt:       j.RunAt,
		StartedAt:   j.StartedAt,
		HeartbeatAt: j.HeartbeatAt,
		Attempts:    j.RetryCount,
		MaxRetries:  j.MaxRetries,
		LastError:   j.LastError,
	}
	if !j.WorkerID.IsNil() {
		v.WorkerID = j.WorkerID.String()
	}
	return v
}

// decodeArgs decodes a payload for display. Undecodable payloads are
// shown as their raw string.
func decodeArgs(codec string, payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	c, err := job.LookupCodec(codec)
	if err != nil {
		return string(payload)
	}
	var v any
	if err := c.Unmarshal(payload, &v); err != nil {
		return string(payload)
	}
	return v
}

// PrintJob writes the full record of one job.
func (f *Formatter) PrintJob(j *job.Job) error {
	v := viewOf(j)
	if f.mode == ModeJSON {
		return f.PrintJSON(v)
	}

	args, err := json.Marshal(v.Args)
	if err != nil {
		args = []byte(fmt.Sprint(v.Args))
	}

	rows := [][2]string{
		{"id", v.ID},
		{"queue", v.Queue},
		{"title", v.Title},
		{"function", v.Function},
		{"args", string(args)},
		{"state", string(v.State)},
		{"enqueued_at", formatTime(&v.EnqueuedAt)},
		{"run_at", formatTime(&v.RunAt)},
		{"started_at", formatTime(v.StartedAt)},
		{"heartbeat_at", formatTime(v.HeartbeatAt)},
		{"attempts", fmt.Sprintf("%d/%d", v.Attempts, v.MaxRetries+1)},
		{"last_error", v.LastError},
		{"worker_id", v.WorkerID},
	}

	w := tabwriter.NewWriter(f.stdout, 0, 0, 2, ' ', 0)
	for _, r := range rows {
		key := r[0] + ":"
		if f.color {
			key = color.New(color.Bold).Sprint(key)
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", key, r[1]); err != nil {
			return err
		}
	}
	return w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// PrintFailures writes DLQ entries as a table, or a JSON array.
func (f *Formatter) PrintFailures(entries []*dlq.Entry) error {
	if f.mode == ModeJSON {
		if entries == nil {
			entries = []*dlq.Entry{}
		}
		return f.PrintJSON(entries)
	}
	if len(entries) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(f.stdout, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, f.header("ID", "JOB", "QUEUE", "FUNCTION", "FAILED", "REQUEUED", "ERROR")); err != nil {
		return err
	}
	for _, e := range entries {
		requeued := "no"
		if e.Requeued() {
			requeued = "yes"
		}
		row := []string{
			e.ID.String(),
			e.JobID.String(),
			e.Queue,
			e.JobName,
			e.FailedAt.UTC().Format(ListTimeLayout),
			requeued,
			firstLine(e.Error),
		}
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return w.Flush()
}

// PrintSchedules writes recurring entries as a table, or a JSON array.
func (f *Formatter) PrintSchedules(entries []cron.Entry) error {
	if f.mode == ModeJSON {
		if entries == nil {
			entries = []cron.Entry{}
		}
		return f.PrintJSON(entries)
	}
	if len(entries) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(f.stdout, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, f.header("NAME", "SCHEDULE", "FUNCTION", "QUEUE", "NEXT RUN")); err != nil {
		return err
	}
	for _, e := range entries {
		q := e.Queue
		if q == "" {
			q = queue.DefaultName
		}
		row := []string{e.Name, e.Schedule, e.JobName, q, e.NextRunAt.UTC().Format(ListTimeLayout)}
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (f *Formatter) header(names ...string) string {
	if f.color {
		for i, h := range names {
			names[i] = color.New(color.Bold).Sprint(h)
		}
	}
	return strings.Join(names, "\t")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// PrintEvent writes one lifecycle event per line: compact JSON in JSON
// mode, otherwise `<ts> <type> <job id or queue> [name][: error]`.
func (f *Formatter) PrintEvent(evt *stream.Event) error {
	if f.mode == ModeJSON {
		return json.NewEncoder(f.stdout).Encode(evt)
	}

	var d stream.JobEventData
	_ = json.Unmarshal(evt.Data, &d) //nolint:errcheck // queue events only carry Queue

	subject := d.JobID
	if subject == "" {
		subject = d.Queue
	}
	line := fmt.Sprintf("%s %s %s", evt.Timestamp.UTC().Format(ListTimeLayout), evt.Type, subject)
	if d.JobName != "" {
		line += " " + d.JobName
	}
	if d.Error != "" {
		line += ": " + firstLine(d.Error)
	}
	_, err := fmt.Fprintln(f.stdout, line)
	return err
}

// PrintSummary writes a confirmation message. In JSON mode it goes to
// stderr so stdout stays machine-readable.
func (f *Formatter) PrintSummary(message string) error {
	if f.mode == ModeJSON {
		_, err := fmt.Fprintln(f.stderr, message)
		return err
	}
	if f.color {
		_, err := color.New(color.FgGreen).Fprintln(f.stdout, message)
		return err
	}
	_, err := fmt.Fprintln(f.stdout, message)
	return err
}

// PrintError writes `Error: <message>` to stderr.
func (f *Formatter) PrintError(err error) error {
	if err == nil {
		return nil
	}
	if f.color {
		_, werr := color.New(color.FgRed).Fprintf(f.stderr, "Error: %v\n", err)
		return werr
	}
	_, werr := fmt.Fprintf(f.stderr, "Error: %v\n", err)
	return werr
}
