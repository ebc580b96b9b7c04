package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"podcast-research-sync/internal/entity"
	"podcast-research-sync/internal/service"
	"podcast-research-sync/pkg/events"
	"podcast-research-sync/pkg/researchapi"

	pktNats "podcast-research-sync/pkg/nats"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	versionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("208"))
)

func (a *app) saveCmd() *cobra.Command {
	var withRetry bool

	cmd := &cobra.Command{
		Use:   "save <items.json|->",
		Short: "Create or update the remote session from a JSON item list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := readItems(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			save := a.svc.Save
			if withRetry {
				save = a.svc.SaveWithRetry
			}
			session, err := save(cmd.Context(), items)
			if err != nil {
				return describe(err)
			}
			if session == nil {
				fmt.Fprintln(a.opts.Out, warnStyle.Render("Empty collection: local session cleared"))
				return nil
			}

			fmt.Fprintf(a.opts.Out, "%s %s %s\n",
				headerStyle.Render("Saved"),
				idStyle.Render(session.Id),
				versionStyle.Render(fmt.Sprintf("v%d", session.Version)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&withRetry, "retry", false, "Retry network failures and timeouts with backoff")
	return cmd
}

func (a *app) loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Print the items of the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := a.svc.LoadCurrentSession(cmd.Context())
			if err != nil {
				return describe(err)
			}
			return a.printJSON(items)
		},
	}
}

func (a *app) clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the current session pointer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.svc.ClearSession(cmd.Context())
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions owned by this client (or the signed-in user)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := a.svc.ListSessions(cmd.Context())
			if err != nil {
				return describe(err)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(a.opts.Out, "No sessions.")
				return nil
			}

			ptr, err := a.svc.CurrentPointer(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(a.opts.Out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, headerStyle.Render("ID")+"\t"+headerStyle.Render("VERSION")+"\t"+headerStyle.Render("ITEMS")+"\t"+headerStyle.Render("UPDATED"))
			for _, s := range sessions {
				marker := ""
				if ptr != nil && ptr.SessionId == s.Id {
					marker = " *"
				}
				fmt.Fprintf(w, "%s%s\t%d\t%d\t%s\n", idStyle.Render(s.Id), marker, s.Version, len(s.Items), s.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func (a *app) enrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enrich <id>...",
		Short: "Fetch metadata for item ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := a.svc.Enrich(cmd.Context(), args)
			if err != nil {
				return err
			}
			return a.printJSON(resolved)
		},
	}
}

func (a *app) shareCmd() *cobra.Command {
	var visibility string

	cmd := &cobra.Command{
		Use:   "share [title]",
		Short: "Publish a snapshot of the current session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := a.svc.LoadCurrentSession(cmd.Context())
			if err != nil {
				return describe(err)
			}

			opts := service.ShareOptions{
				Visibility: entity.ShareVisibility(visibility),
				Nodes:      nodesFor(items),
			}
			if len(args) == 1 {
				opts.Title = args[0]
			}

			res, err := a.svc.ShareCurrentSession(cmd.Context(), opts)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(a.opts.Out, "%s %s\n%s %s\n",
				headerStyle.Render("Share:"), res.ShareUrl,
				headerStyle.Render("Preview:"), res.PreviewImageUrl)
			return nil
		},
	}
	cmd.Flags().StringVar(&visibility, "visibility", string(entity.ShareVisibilityUnlisted), "public or unlisted")
	return cmd
}

func (a *app) analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <instructions>",
		Short: "Stream an analysis of the current session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stream, err := a.svc.Analyze(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return describe(err)
			}
			defer stream.Close()

			for chunk := range stream.Chunks() {
				fmt.Fprint(a.opts.Out, chunk)
			}
			fmt.Fprintln(a.opts.Out)
			return stream.Err()
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the client id, sign-in state and session pointer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			clientId, ok, err := a.svc.CurrentClientId(ctx)
			if err != nil {
				return err
			}
			if !ok {
				clientId = "none (assigned on first save)"
			}
			ptr, err := a.svc.CurrentPointer(ctx)
			if err != nil {
				return err
			}
			token, _, err := a.store.Get(ctx, researchapi.AuthTokenKey)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.opts.Out, "client id:  %s\n", clientId)
			fmt.Fprintf(a.opts.Out, "signed in:  %t\n", token != "" || a.token != "")
			switch {
			case ptr == nil:
				fmt.Fprintln(a.opts.Out, "session:    none")
			case ptr.Version == nil:
				fmt.Fprintf(a.opts.Out, "session:    %s (version unknown)\n", ptr.SessionId)
			default:
				fmt.Fprintf(a.opts.Out, "session:    %s v%d (cached %s)\n", ptr.SessionId, *ptr.Version, ptr.CachedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Store a bearer token; later calls run as that user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.Set(cmd.Context(), researchapi.AuthTokenKey, args[0])
		},
	}
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.Delete(cmd.Context(), researchapi.AuthTokenKey)
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Tail research session events from NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := a.opts.Config.App.NatsURL
			if url == "" {
				return fmt.Errorf("NATS_URL is not set")
			}
			sub, err := pktNats.NewSubscriber(url)
			if err != nil {
				return err
			}
			defer sub.Close()

			ctx := cmd.Context()
			err = sub.Subscribe(ctx, pktNats.Subject("research_session.>"), "", func(_ context.Context, evt events.Event) error {
				fmt.Fprintf(a.opts.Out, "%s %s %v\n",
					evt.Timestamp().Format(time.RFC3339),
					headerStyle.Render(evt.EventType()),
					evt.Payload()["session_id"])
				return nil
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(a.opts.Err, "Watching events, press Ctrl+C to stop")
			<-ctx.Done()
			return nil
		},
	}
}

func readItems(path string, stdin io.Reader) ([]entity.ResearchSessionItem, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open items: %w", err)
		}
		defer f.Close()
		r = f
	}

	var items []entity.ResearchSessionItem
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return items, nil
}

func nodesFor(items []entity.ResearchSessionItem) []entity.ShareNode {
	nodes := make([]entity.ShareNode, 0, len(items))
	for _, item := range items {
		node := entity.ShareNode{Id: item.ShareLink, Title: item.DisplayText()}
		if item.Coordinates != nil {
			node.Coordinates = *item.Coordinates
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// describe adds a hint to errors a user can act on.
func describe(err error) error {
	var quota *researchapi.QuotaExceededError
	switch {
	case errors.As(err, &quota):
		return fmt.Errorf("%w (resets %s)", err, quota.ResetAfter.Local().Format(time.Kitchen))
	case errors.Is(err, researchapi.ErrNoActiveSession):
		return fmt.Errorf("%w; run `research-sync save` first", err)
	case errors.Is(err, researchapi.ErrConflict):
		return fmt.Errorf("%w; run `research-sync load` to pick up the latest version", err)
	}
	return err
}
