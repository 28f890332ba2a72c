package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rbright/muninn/internal/cli"
	"github.com/rbright/muninn/internal/config"
	"github.com/rbright/muninn/internal/files"
	"github.com/rbright/muninn/internal/store"
)

const defaultHistoryLimit = 20

// commandMessages runs the message-history commands directly against the database. They work
// with or without a running daemon.
func (r Runner) commandMessages(ctx context.Context, cfg config.Config, parsed cli.Parsed, logger *slog.Logger) int {
	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	switch parsed.Command {
	case cli.CommandHistory:
		err = r.printHistory(ctx, db, parsed.Args)
	case cli.CommandShow:
		err = r.showMessage(ctx, db, parsed.Args[0])
	case cli.CommandSearch:
		err = r.searchMessages(ctx, db, parsed.Text())
	case cli.CommandArchive:
		err = r.archiveMessage(ctx, db, parsed.Args[0])
	case cli.CommandDelete:
		err = r.deleteMessage(ctx, cfg, db, parsed.Args[0], logger)
	case cli.CommandSetting:
		err = r.setting(ctx, db, parsed.Args)
	default:
		err = fmt.Errorf("unsupported command %q", parsed.Command)
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (r Runner) printHistory(ctx context.Context, db *store.Store, args []string) error {
	limit := defaultHistoryLimit
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid message count %q", args[0])
		}
		limit = n
	}
	messages, err := db.AllMessages(ctx, limit)
	if err != nil {
		return err
	}
	writeMessages(r.Stdout, messages)
	return nil
}

func (r Runner) showMessage(ctx context.Context, db *store.Store, rawID string) error {
	id, err := parseMessageID(rawID)
	if err != nil {
		return err
	}
	msg, err := db.Message(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(r.Stdout, "id:            %d\n", msg.ID)
	fmt.Fprintf(r.Stdout, "member:        %s\n", msg.FamilyMember)
	fmt.Fprintf(r.Stdout, "recorded:      %s\n", msg.RecordedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(r.Stdout, "duration:      %s\n", formatDuration(msg.DurationSeconds))
	fmt.Fprintf(r.Stdout, "file:          %s\n", msg.FilePath)
	fmt.Fprintf(r.Stdout, "archived:      %t\n", msg.IsArchived)
	if msg.Transcription != nil {
		fmt.Fprintf(r.Stdout, "transcription: %s\n", *msg.Transcription)
	}
	if msg.Tags != nil {
		fmt.Fprintf(r.Stdout, "tags:          %s\n", *msg.Tags)
	}
	return nil
}

func (r Runner) searchMessages(ctx context.Context, db *store.Store, text string) error {
	if text == "" {
		return errors.New("search needs text")
	}
	messages, err := db.Search(ctx, text)
	if err != nil {
		return err
	}
	writeMessages(r.Stdout, messages)
	return nil
}

func (r Runner) archiveMessage(ctx context.Context, db *store.Store, rawID string) error {
	id, err := parseMessageID(rawID)
	if err != nil {
		return err
	}
	if err := db.ArchiveMessage(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(r.Stdout, "archived message %d\n", id)
	return nil
}

// deleteMessage removes the row, then its audio file.
func (r Runner) deleteMessage(ctx context.Context, cfg config.Config, db *store.Store, rawID string, logger *slog.Logger) error {
	id, err := parseMessageID(rawID)
	if err != nil {
		return err
	}
	msg, err := db.Message(ctx, id)
	if err != nil {
		return err
	}
	if err := db.DeleteMessage(ctx, id); err != nil {
		return err
	}

	manager, err := files.NewManager(config.ExpandPath(cfg.Audio.Dir), logger)
	if err != nil {
		return err
	}
	if err := manager.Remove(msg.FilePath); err != nil {
		return err
	}
	logger.Info("message deleted", "id", id, "path", msg.FilePath)
	fmt.Fprintf(r.Stdout, "deleted message %d\n", id)
	return nil
}

func (r Runner) setting(ctx context.Context, db *store.Store, args []string) error {
	key := strings.TrimSpace(args[0])
	if key == "" {
		return errors.New("setting needs a key")
	}
	if len(args) == 2 {
		if err := db.SetSetting(ctx, key, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(r.Stdout, "%s=%s\n", key, args[1])
		return nil
	}

	value, ok, err := db.GetSetting(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("setting %q is not set", key)
	}
	fmt.Fprintln(r.Stdout, value)
	return nil
}

func writeMessages(w io.Writer, messages []store.Message) {
	if len(messages) == 0 {
		fmt.Fprintln(w, "no messages")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMEMBER\tRECORDED\tDURATION\tTRANSCRIPTION")
	for _, msg := range messages {
		text := ""
		if msg.Transcription != nil {
			text = *msg.Transcription
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			msg.ID,
			msg.FamilyMember,
			msg.RecordedAt.Local().Format("2006-01-02 15:04"),
			formatDuration(msg.DurationSeconds),
			text,
		)
	}
	_ = tw.Flush()
}

func formatDuration(seconds *float64) string {
	if seconds == nil {
		return "-"
	}
	return fmt.Sprintf("%.1fs", *seconds)
}

func parseMessageID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid message id %q", raw)
	}
	return id, nil
}
