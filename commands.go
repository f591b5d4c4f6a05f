package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"ytbatch-uploader/internal/services/uploads"
)

type command func(ctx context.Context, app *App, args []string) error

var commands = map[string]command{
	"worker":          runWorker,
	"login":           runLogin,
	"submit":          runSubmit,
	"list":            runList,
	"get":             runGet,
	"stats":           runStats,
	"pause":           runPause,
	"resume":          runResume,
	"cancel":          runCancel,
	"delete":          runDelete,
	"delete-terminal": runDeleteTerminal,
	"retry":           runRetry,
	"notes":           runNotes,
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ownerFlags registers the flags identifying who acts on jobs
func ownerFlags(fs *flag.FlagSet) *uploads.Owner {
	owner := &uploads.Owner{}
	fs.StringVar(&owner.UserID, "user", os.Getenv("YTBATCH_USER"), "user id (default $YTBATCH_USER)")
	fs.StringVar(&owner.SessionID, "session", os.Getenv("YTBATCH_SESSION"), "session id, used when no user id is known")
	return owner
}

func checkOwner(owner *uploads.Owner) error {
	if owner.UserID == "" && owner.SessionID == "" {
		return errors.New("--user or --session is required")
	}
	return nil
}

// jobArgs parses flags followed by exactly one job id
func jobArgs(name string, args []string, extra func(fs *flag.FlagSet)) (*uploads.Owner, string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	owner := ownerFlags(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}
	if err := checkOwner(owner); err != nil {
		return nil, "", err
	}
	if fs.NArg() != 1 {
		return nil, "", fmt.Errorf("usage: %s [flags] <job-id>", name)
	}
	return owner, fs.Arg(0), nil
}

func runWorker(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	serveMetrics(ctx, app)
	return app.RunWorker(ctx)
}

func runLogin(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	var req LoginRequest
	fs.StringVar(&req.UserID, "user", os.Getenv("YTBATCH_USER"), "user id the session belongs to")
	fs.StringVar(&req.SessionID, "session", "", "existing session id to replace")
	fs.StringVar(&req.RefreshToken, "refresh-token", os.Getenv("YOUTUBE_REFRESH_TOKEN"), "OAuth refresh token (default $YOUTUBE_REFRESH_TOKEN, else read from stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if req.RefreshToken == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read refresh token: %w", err)
		}
		req.RefreshToken = strings.TrimSpace(line)
	}

	resp, err := app.Login(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runSubmit(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	owner := ownerFlags(fs)
	req := uploads.SubmitRequest{}
	fs.StringVar(&req.ManifestPath, "manifest", "", "CSV manifest path")
	fs.StringVar(&req.WorkDir, "work-dir", "", "job working directory holding the media, removed when the job is deleted (default: media next to the manifest, never removed)")
	fs.StringVar(&req.UploadInterval, "interval", "", "day|12hours|6hours|hour|30mins|10mins|custom (empty uploads everything at once)")
	fs.IntVar(&req.VideosPerInterval, "per-interval", 0, "videos per interval")
	fs.IntVar(&req.CustomIntervalMinutes, "custom-minutes", 0, "interval length for --interval custom")
	fs.IntVar(&req.TotalVideos, "total", 0, "number of videos (0 counts manifest rows)")
	fs.StringVar(&req.Notes, "notes", "", "free-form notes")
	startDate := fs.String("start", "", "first slot time, RFC3339 or YYYY-MM-DD (default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := checkOwner(owner); err != nil {
		return err
	}
	req.Owner = *owner

	if *startDate != "" {
		t, err := parseStartDate(*startDate)
		if err != nil {
			return err
		}
		req.StartDate = &t
	}

	id, err := app.SubmitJob(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"id": id})
}

func parseStartDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --start %q: use RFC3339 or YYYY-MM-DD", s)
}

func runList(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	owner := ownerFlags(fs)
	limit := fs.Int("limit", 0, "maximum number of jobs (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := checkOwner(owner); err != nil {
		return err
	}
	return printJSON(app.ListJobs(ctx, *owner, *limit))
}

func runGet(ctx context.Context, app *App, args []string) error {
	owner, id, err := jobArgs("get", args, nil)
	if err != nil {
		return err
	}
	job, err := app.GetJob(ctx, *owner, id)
	if err != nil {
		return err
	}
	return printJSON(job)
}

func runStats(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	owner := ownerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := checkOwner(owner); err != nil {
		return err
	}
	return printJSON(app.JobStats(ctx, *owner))
}

func runPause(ctx context.Context, app *App, args []string) error {
	owner, id, err := jobArgs("pause", args, nil)
	if err != nil {
		return err
	}
	changed, err := app.PauseJob(ctx, *owner, id)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"id": id, "paused": changed})
}

func runResume(ctx context.Context, app *App, args []string) error {
	owner, id, err := jobArgs("resume", args, nil)
	if err != nil {
		return err
	}
	changed, err := app.ResumeJob(ctx, *owner, id)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"id": id, "resumed": changed})
}

func runCancel(ctx context.Context, app *App, args []string) error {
	owner, id, err := jobArgs("cancel", args, nil)
	if err != nil {
		return err
	}
	if err := app.CancelJob(ctx, *owner, id); err != nil {
		return err
	}
	return printJSON(map[string]any{"id": id, "cancelled": true})
}

func runDelete(ctx context.Context, app *App, args []string) error {
	owner, id, err := jobArgs("delete", args, nil)
	if err != nil {
		return err
	}
	if err := app.DeleteJob(ctx, *owner, id); err != nil {
		return err
	}
	return printJSON(map[string]any{"id": id, "deleted": true})
}

func runDeleteTerminal(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("delete-terminal", flag.ContinueOnError)
	owner := ownerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := checkOwner(owner); err != nil {
		return err
	}
	n, err := app.DeleteTerminalJobs(ctx, *owner)
	if err != nil {
		return err
	}
	return printJSON(map[string]int{"deleted": n})
}

func runRetry(ctx context.Context, app *App, args []string) error {
	owner, id, err := jobArgs("retry", args, nil)
	if err != nil {
		return err
	}
	n, err := app.RetryFailedTasks(ctx, *owner, id)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"id": id, "requeued": n})
}

func runNotes(ctx context.Context, app *App, args []string) error {
	var notes string
	owner, id, err := jobArgs("notes", args, func(fs *flag.FlagSet) {
		fs.StringVar(&notes, "set", "", "new notes text")
	})
	if err != nil {
		return err
	}
	if err := app.UpdateJobNotes(ctx, *owner, id, notes); err != nil {
		return err
	}
	return printJSON(map[string]any{"id": id, "notes": notes})
}
