package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/dokey/internal/autosave"
	"github.com/dharsanguruparan/dokey/internal/config"
	"github.com/dharsanguruparan/dokey/internal/editor"
	"github.com/dharsanguruparan/dokey/internal/logging"
	"github.com/dharsanguruparan/dokey/internal/model"
)

// sessionFlags identify the document and the principal an editing session
// acts as.
type sessionFlags struct {
	api        string
	userID     string
	orgID      string
	documentID string
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.api, "api", "", "Base URL of the document API (defaults to DOKEY_PUBLIC_URL)")
	cmd.PersistentFlags().StringVar(&f.userID, "user", "", "User id sent as X-User-ID")
	cmd.PersistentFlags().StringVar(&f.orgID, "org", "", "Organization id sent as X-Org-ID")
	cmd.PersistentFlags().StringVar(&f.documentID, "document", "", "Document id")
	_ = cmd.MarkPersistentFlagRequired("user")
	_ = cmd.MarkPersistentFlagRequired("document")
}

// recordingSyncer collects every id mapping returned during a session.
type recordingSyncer struct {
	next autosave.Syncer

	mu      sync.Mutex
	mapping model.IDMapping
}

func (r *recordingSyncer) Sync(ctx context.Context, documentID string, pages []model.Page) (model.IDMapping, error) {
	m, err := r.next.Sync(ctx, documentID, pages)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mapping == nil {
		r.mapping = model.IDMapping{}
	}
	for k, v := range m {
		r.mapping[k] = v
	}
	return m, nil
}

// session is one CLI editing session: the document is loaded into an editor
// store and every edit is saved through the autosave engine on close.
type session struct {
	store    *editor.Store
	engine   *autosave.Engine
	recorder *recordingSyncer
}

func openSession(cmd *cobra.Command, f *sessionFlags) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logging.NewWithOutput(cmd.ErrOrStderr(), cfg.LogLevel, "text")
	api := f.api
	if api == "" {
		api = cfg.PublicURL
	}
	client := autosave.NewClient(api, f.userID, f.orgID)
	doc, err := client.Document(cmd.Context(), f.documentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", f.documentID, err)
	}

	store := editor.NewStore()
	store.SetDocument(editor.InitialPages(doc), doc.Recipients)
	recorder := &recordingSyncer{next: client}
	engine := autosave.New(store, autosave.Config{
		DocumentID: doc.ID,
		Window:     cfg.SyncWindow,
		Syncer:     recorder,
		Notifier:   autosave.LogNotifier{Log: log},
		Log:        log,
	})
	return &session{store: store, engine: engine, recorder: recorder}, nil
}

// close flushes pending edits and prints the ids the server assigned.
func (s *session) close(ctx context.Context, out io.Writer) error {
	if err := s.engine.Close(ctx); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	s.recorder.mu.Lock()
	defer s.recorder.mu.Unlock()
	temps := make([]string, 0, len(s.recorder.mapping))
	for k := range s.recorder.mapping {
		temps = append(temps, string(k))
	}
	sort.Strings(temps)
	for _, k := range temps {
		fmt.Fprintf(out, "%s -> %s\n", k, s.recorder.mapping[model.ID(k)])
	}
	return nil
}

// locate returns the number of the page holding the field.
func (s *session) locate(id string) (int, error) {
	_, pageNumber, ok := editor.FindField(s.store.Pages(), model.ID(id))
	if !ok {
		return 0, fmt.Errorf("field %s not found", id)
	}
	return pageNumber, nil
}

// edit opens a session, applies fn and saves the result.
func edit(cmd *cobra.Command, f *sessionFlags, fn func(s *session) error) error {
	s, err := openSession(cmd, f)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		_ = s.engine.Close(context.WithoutCancel(cmd.Context()))
		return err
	}
	return s.close(cmd.Context(), cmd.OutOrStdout())
}

func newFieldsCmd() *cobra.Command {
	flags := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "Edit the fields of a document through the API",
	}
	flags.register(cmd)
	cmd.AddCommand(
		newFieldsListCmd(flags),
		newFieldsAddCmd(flags),
		newFieldsMoveCmd(flags),
		newFieldsDuplicateCmd(flags),
		newFieldsDeleteCmd(flags),
	)
	return cmd
}

func newFieldsListCmd(flags *sessionFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List fields page by page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return edit(cmd, flags, func(s *session) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PAGE\tID\tTYPE\tX\tY\tWIDTH\tHEIGHT\tRECIPIENT")
				for _, p := range s.store.Pages() {
					for _, fld := range p.Fields {
						recipient := "-"
						if fld.RecipientID != nil {
							recipient = *fld.RecipientID
						}
						fmt.Fprintf(tw, "%d\t%s\t%s\t%g\t%g\t%g\t%g\t%s\n",
							p.PageNumber, fld.ID, fld.Type, fld.X, fld.Y, fld.Width, fld.Height, recipient)
					}
				}
				return tw.Flush()
			})
		},
	}
}

func newFieldsAddCmd(flags *sessionFlags) *cobra.Command {
	var (
		pageNumber    int
		fieldType     string
		x, y          float64
		width, height float64
		recipientID   string
		required      bool
		label         string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Place a new field on a page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := model.FieldType(fieldType)
			if !t.Valid() {
				return fmt.Errorf("unknown field type %q", fieldType)
			}
			if width <= 0 || height <= 0 {
				return fmt.Errorf("width and height must be positive")
			}
			field := model.Field{
				ID:       model.NewTemporaryID(),
				Type:     t,
				X:        x,
				Y:        y,
				Width:    width,
				Height:   height,
				Required: required,
				Label:    label,
			}
			if recipientID != "" {
				field.RecipientID = &recipientID
			}
			return edit(cmd, flags, func(s *session) error {
				if total := len(s.store.Pages()); pageNumber < 1 || pageNumber > total {
					return fmt.Errorf("page %d does not exist (document has %d pages)", pageNumber, total)
				}
				s.store.AddField(pageNumber, field)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&pageNumber, "page", 1, "Page number")
	cmd.Flags().StringVar(&fieldType, "type", string(model.FieldSignature), "Field type")
	cmd.Flags().Float64Var(&x, "x", 0, "Left offset")
	cmd.Flags().Float64Var(&y, "y", 0, "Top offset")
	cmd.Flags().Float64Var(&width, "width", 200, "Width")
	cmd.Flags().Float64Var(&height, "height", 50, "Height")
	cmd.Flags().StringVar(&recipientID, "recipient", "", "Recipient the field is assigned to")
	cmd.Flags().BoolVar(&required, "required", false, "Whether the field must be filled")
	cmd.Flags().StringVar(&label, "label", "", "Field label")
	return cmd
}

func newFieldsMoveCmd(flags *sessionFlags) *cobra.Command {
	var x, y float64
	cmd := &cobra.Command{
		Use:   "move <fieldId>",
		Short: "Move a field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return edit(cmd, flags, func(s *session) error {
				pageNumber, err := s.locate(args[0])
				if err != nil {
					return err
				}
				s.store.UpdateField(pageNumber, model.ID(args[0]), editor.Move(x, y))
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&x, "x", 0, "Left offset")
	cmd.Flags().Float64Var(&y, "y", 0, "Top offset")
	return cmd
}

func newFieldsDuplicateCmd(flags *sessionFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "duplicate <fieldId>",
		Short: "Copy a field next to the original",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return edit(cmd, flags, func(s *session) error {
				pageNumber, err := s.locate(args[0])
				if err != nil {
					return err
				}
				s.store.DuplicateField(pageNumber, model.ID(args[0]))
				return nil
			})
		},
	}
}

func newFieldsDeleteCmd(flags *sessionFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <fieldId>",
		Short: "Remove a field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return edit(cmd, flags, func(s *session) error {
				pageNumber, err := s.locate(args[0])
				if err != nil {
					return err
				}
				s.store.DeleteField(pageNumber, model.ID(args[0]))
				return nil
			})
		},
	}
}

func newPagesCmd() *cobra.Command {
	flags := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "pages",
		Short: "Add or remove document pages through the API",
	}
	flags.register(cmd)

	var after int
	var width, height float64
	add := &cobra.Command{
		Use:   "add",
		Short: "Insert a blank page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return edit(cmd, flags, func(s *session) error {
				s.store.AddPage(after, model.Page{Width: width, Height: height, Fields: []model.Field{}})
				return nil
			})
		},
	}
	add.Flags().IntVar(&after, "after", 0, "Insert after this page number (appends when absent)")
	add.Flags().Float64Var(&width, "width", editor.DefaultPageWidth, "Page width")
	add.Flags().Float64Var(&height, "height", editor.DefaultPageHeight, "Page height")

	duplicate := &cobra.Command{
		Use:   "duplicate <pageNumber>",
		Short: "Copy a page and its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parsePageNumber(args[0])
			if err != nil {
				return err
			}
			return edit(cmd, flags, func(s *session) error {
				s.store.DuplicatePage(n)
				return nil
			})
		},
	}

	remove := &cobra.Command{
		Use:   "delete <pageNumber>",
		Short: "Remove a page and its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parsePageNumber(args[0])
			if err != nil {
				return err
			}
			return edit(cmd, flags, func(s *session) error {
				if len(s.store.Pages()) <= 1 {
					return fmt.Errorf("cannot delete the last page")
				}
				s.store.DeletePage(n)
				return nil
			})
		},
	}

	cmd.AddCommand(add, duplicate, remove)
	return cmd
}

func parsePageNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid page number %q", s)
	}
	return n, nil
}
