package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/iwoork/homeforpup-sub006/pkg/client"
	"github.com/iwoork/homeforpup-sub006/pkg/compose"
	"github.com/iwoork/homeforpup-sub006/pkg/config"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
	"github.com/iwoork/homeforpup-sub006/pkg/shutdown"
	"github.com/iwoork/homeforpup-sub006/pkg/syncer"
)

// remote holds the flags shared by commands that talk to a running server.
type remote struct {
	configPath string
	server     string
	userID     string
	userName   string
	apiKey     string
	signingKey string
	timeout    time.Duration
	interval   time.Duration
	pageSize   int
}

func (r *remote) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&r.configPath, "config", "", "config file with a sync section")
	f.StringVar(&r.server, "server", "", "server base URL (default sync.server_url or http://localhost:8080)")
	f.StringVar(&r.userID, "user", "", "acting user id")
	f.StringVar(&r.userName, "name", "", "acting user display name")
	f.StringVar(&r.apiKey, "api-key", "", "API key")
	f.StringVar(&r.signingKey, "signing-key", "", "key used to sign the user id")
	f.DurationVar(&r.timeout, "timeout", 0, "per-request timeout")
	f.DurationVar(&r.interval, "interval", 0, "poll interval")
	f.IntVar(&r.pageSize, "page-size", 0, "messages per page")
	_ = cmd.MarkFlagRequired("user")
}

// resolve fills unset values from the config file's sync section and the
// built-in defaults.
func (r *remote) resolve() error {
	cfg := &config.Config{}
	if r.configPath != "" {
		c, err := config.LoadConfigFile(r.configPath)
		if err != nil {
			return err
		}
		cfg = c
	}
	if err := cfg.ValidateConfig(); err != nil {
		return err
	}
	if r.server == "" {
		r.server = cfg.Sync.ServerURL
	}
	if r.server == "" {
		r.server = "http://localhost:8080"
	}
	if r.timeout <= 0 {
		r.timeout = cfg.Sync.Timeout.Duration()
	}
	if r.interval <= 0 {
		r.interval = cfg.Sync.PollInterval.Duration()
	}
	if r.pageSize <= 0 {
		r.pageSize = cfg.Sync.PageSize
	}
	if r.userName == "" {
		r.userName = r.userID
	}
	return nil
}

func (r *remote) client() *client.Client {
	opts := []client.Option{client.WithIdentity(r.userID, r.userName), client.WithTimeout(r.timeout)}
	if r.apiKey != "" {
		opts = append(opts, client.WithAPIKey(r.apiKey))
	}
	if r.signingKey != "" {
		opts = append(opts, client.WithSigningKey(r.signingKey))
	}
	return client.New(r.server, opts...)
}

func newWatchCmd() *cobra.Command {
	var (
		rm       remote
		threadID string
		once     bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a user's inbox, and optionally one thread, by polling the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rm.resolve(); err != nil {
				return err
			}
			engine := syncer.New(rm.client(), rm.userID,
				syncer.WithInterval(rm.interval), syncer.WithPageSize(rm.pageSize))
			out := cmd.OutOrStdout()

			if once {
				if err := engine.RefreshThreads(cmd.Context()); err != nil {
					return err
				}
				if threadID != "" {
					if err := engine.Select(cmd.Context(), threadID); err != nil {
						return err
					}
				}
				renderView(out, engine.Snapshot(), time.Now())
				return nil
			}

			ctx, cancel := shutdown.SetupSignalHandler(cmd.Context())
			defer cancel()

			var mu sync.Mutex
			unsubscribe := engine.Subscribe(func(v syncer.View) {
				mu.Lock()
				defer mu.Unlock()
				renderView(out, v, time.Now())
			})
			defer unsubscribe()

			if err := engine.Start(ctx); err != nil {
				return err
			}
			defer engine.Stop()
			if threadID != "" {
				if err := engine.Select(ctx, threadID); err != nil {
					return err
				}
			}
			<-ctx.Done()
			return nil
		},
	}
	rm.bind(cmd)
	cmd.Flags().StringVar(&threadID, "thread", "", "thread to follow")
	cmd.Flags().BoolVar(&once, "once", false, "fetch once, print and exit")
	return cmd
}

func newSendCmd() *cobra.Command {
	var (
		rm      remote
		to      string
		toName  string
		subject string
		msgType string
		newOnly bool
	)
	cmd := &cobra.Command{
		Use:   "send <content>",
		Short: "Message a user, replying in the newest thread with the same subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rm.resolve(); err != nil {
				return err
			}
			mt, ok := models.ParseMessageType(msgType)
			if !ok {
				return errors.Newf("unknown message type %q", msgType)
			}
			c := rm.client()
			cp := &compose.Composer{
				Self:   compose.Participant{ID: rm.userID, Name: rm.userName},
				Writer: c,
				Finder: c,
			}
			d := compose.NewDraft(subject, args[0])
			recipient := compose.Participant{ID: to, Name: toName}

			var (
				th  models.Thread
				msg models.Message
				err error
			)
			if newOnly {
				th, msg, err = cp.Compose(cmd.Context(), d, recipient, mt)
			} else {
				th, msg, err = cp.ComposeOrReply(cmd.Context(), d, recipient, mt)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s in thread %s (%d messages)\n", msg.ID, th.ID, th.MessageCount)
			return nil
		},
	}
	rm.bind(cmd)
	cmd.Flags().StringVar(&to, "to", "", "receiving user id")
	cmd.Flags().StringVar(&toName, "to-name", "", "receiving user display name")
	cmd.Flags().StringVar(&subject, "subject", "", "thread subject; selects the thread to reply in")
	cmd.Flags().StringVar(&msgType, "type", string(models.MessageGeneral), "message type: general, inquiry, business or urgent")
	cmd.Flags().BoolVar(&newOnly, "new", false, "always start a new thread")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func renderView(w io.Writer, v syncer.View, now time.Time) {
	fmt.Fprintf(w, "== %s: %d threads, %d unread\n", v.UserID, len(v.Threads), v.Unread)
	if v.Status.Failures > 0 {
		stale := ""
		if v.Status.Stale {
			stale = ", stale"
		}
		fmt.Fprintf(w, "!! %d failed fetches since %s%s: %s\n", v.Status.Failures,
			humanize.RelTime(v.Status.FailingSince, now, "ago", "from now"), stale, v.Status.LastError)
	}
	for _, th := range v.Threads {
		mark := " "
		if th.ID == v.SelectedID {
			mark = ">"
		}
		badge := ""
		if n := th.Unread(v.UserID); n > 0 {
			badge = fmt.Sprintf(" [%d]", n)
		}
		other := th.Counterpart(v.UserID)
		name := th.ParticipantNames[other]
		if name == "" {
			name = other
		}
		subject := th.Subject
		if subject == "" {
			subject = "(no subject)"
		}
		fmt.Fprintf(w, "%s %-20s %-30s %s%s\n", mark, name, subject,
			humanize.RelTime(time.Unix(0, th.UpdatedAt), now, "ago", "from now"), badge)
	}
	if v.Selected == nil {
		return
	}
	if v.HasMore {
		fmt.Fprintln(w, "   ...")
	}
	for _, m := range v.Messages {
		fmt.Fprintf(w, "   %s: %s\n", m.SenderName, strings.TrimSpace(m.Content))
	}
}
