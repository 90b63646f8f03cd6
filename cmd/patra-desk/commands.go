package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/noah-isme/patra-api/internal/dto"
	"github.com/noah-isme/patra-api/internal/models"
	"github.com/noah-isme/patra-api/internal/service"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
)

type letterAPI interface {
	CreateLetter(ctx context.Context, req dto.CreateLetterRequest, original *service.Upload) (*models.Letter, error)
	ExportRegister(ctx context.Context, format string) (io.ReadCloser, error)
	Logout(ctx context.Context) error
}

type authAPI interface {
	Login(ctx context.Context, email, password string) (*models.LoginResponse, error)
	ForgotPassword(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, code, password string) error
}

type scheduler interface {
	service.TaskScheduler
	Cancel(name string)
}

const pollTask = "letters-poll"

type command struct {
	usage string
	route string
	args  int
	run   func(d *desk, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"login":        {usage: "login <email> <password>", args: 2, run: (*desk).login},
	"logout":       {usage: "logout", run: (*desk).logout},
	"whoami":       {usage: "whoami", run: (*desk).whoami},
	"open":         {usage: "open <route>", args: 1, run: (*desk).open},
	"list":         {usage: "list [status...]", route: models.RouteLetters, run: (*desk).list},
	"show":         {usage: "show <id>", route: models.RouteLetterDetail, args: 1, run: (*desk).show},
	"register":     {usage: "register <reference> <subject> <sender> [file]", route: models.RouteInwardDashboard, args: 3, run: (*desk).register},
	"forward":      {usage: "forward <id> <role>", route: models.RouteLetterDetail, args: 2, run: mutate(service.ActionForward)},
	"send-to-head": {usage: "send-to-head <id>", route: models.RouteLetterDetail, args: 1, run: mutate(service.ActionSendToHead)},
	"sign":         {usage: "sign <id>", route: models.RouteHeadDashboard, args: 1, run: mutate(service.ActionSign)},
	"approve":      {usage: "approve <id>", route: models.RouteLetterDetail, args: 1, run: mutate(service.ActionApprove)},
	"reject":       {usage: "reject <id>", route: models.RouteLetterDetail, args: 1, run: mutate(service.ActionReject)},
	"close":        {usage: "close <id>", route: models.RouteLetterDetail, args: 1, run: mutate(service.ActionCloseCase)},
	"cover":        {usage: "cover <id> <reference> <file>...", route: models.RouteLetterDetail, args: 3, run: mutate(service.ActionAttachCovering)},
	"uncover":      {usage: "uncover <id>", route: models.RouteLetterDetail, args: 1, run: mutate(service.ActionRemoveCovering)},
	"reports":      {usage: "reports <id> <file>...", route: models.RouteReports, args: 2, run: mutate(service.ActionUploadReports)},
	"merged":       {usage: "merged <id> <out.pdf>", route: models.RouteLetterDetail, args: 2, run: (*desk).merged},
	"export":       {usage: "export <csv|pdf> <out>", route: models.RouteLetters, args: 2, run: (*desk).export},
	"forgot":       {usage: "forgot <email>", args: 1, run: (*desk).forgot},
	"reset":        {usage: "reset <email> <code> <new-password>", args: 3, run: (*desk).reset},
}

// desk is one operator console bound to a session.
type desk struct {
	out        io.Writer
	api        letterAPI
	auth       authAPI
	session    *service.SessionAuthority
	access     *service.AccessController
	reconciler *service.Reconciler
	scheduler  scheduler
	poll       time.Duration
	verifyTick time.Duration
	renewAhead time.Duration
	listLimit  int
	ended      <-chan service.VerifyOutcome

	mu          sync.Mutex
	stopVerify  func()
	backgrounds bool
}

func (d *desk) repl(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(d.out, "patra> ")
	for scanner.Scan() {
		d.drainEnded()
		line := strings.TrimSpace(scanner.Text())
		if line == "quit" || line == "exit" {
			return nil
		}
		if line != "" {
			if err := d.execute(ctx, line); err != nil {
				fmt.Fprintf(d.out, "error: %s\n", describe(err))
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(d.out, "patra> ")
	}
	return scanner.Err()
}

func (d *desk) execute(ctx context.Context, line string) error {
	fields := splitFields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := fields[0], fields[1:]
	if name == "help" {
		d.help()
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q, try help", name)
	}
	if len(args) < cmd.args {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	if cmd.route != "" {
		allowed, err := d.navigate(ctx, cmd.route)
		if err != nil || !allowed {
			return err
		}
	}
	return cmd.run(d, ctx, args)
}

func (d *desk) help() {
	w := tabwriter.NewWriter(d.out, 0, 4, 2, ' ', 0)
	for _, name := range sortedCommands() {
		fmt.Fprintf(w, "  %s\t%s\n", name, commands[name].usage)
	}
	_ = w.Flush()
}

// navigate asks the access controller for route and reports the redirect
// when the view may not render.
func (d *desk) navigate(ctx context.Context, route string) (bool, error) {
	decision, err := d.access.Navigate(ctx, route)
	if err != nil {
		return false, err
	}
	if decision.Render() {
		if d.renewAhead > 0 && decision.Identity.NeedsRenewal(time.Now(), d.renewAhead) {
			fmt.Fprintf(d.out, "credential expires at %s, sign in again to renew\n", decision.Identity.ExpiresAt.Local().Format(time.Kitchen))
		}
		return true, nil
	}
	fmt.Fprintf(d.out, "redirected to %s (%s)\n", decision.Redirect, decision.Reason)
	if decision.State == service.StateUnauthenticated {
		d.stopBackground()
	}
	return false, nil
}

func (d *desk) login(ctx context.Context, args []string) error {
	res, err := d.auth.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	identity, err := d.session.Init(ctx, res.Credential)
	if err != nil {
		return err
	}
	d.startBackground()
	fmt.Fprintf(d.out, "signed in as %s (%s), landing on %s\n", identity.Email, identity.Role, models.LandingRoute(identity.Role))
	return nil
}

func (d *desk) logout(ctx context.Context, _ []string) error {
	d.stopBackground()
	if err := d.api.Logout(ctx); err != nil && !appErrors.HasCode(err, appErrors.ErrUnauthorized) {
		fmt.Fprintf(d.out, "store did not confirm logout: %s\n", describe(err))
	}
	if err := d.session.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(d.out, "signed out")
	return nil
}

func (d *desk) whoami(ctx context.Context, _ []string) error {
	identity, err := d.session.Current(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "%s\t%s\t%s\texpires %s\n", identity.SubjectID, identity.Email, identity.Role, identity.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (d *desk) open(ctx context.Context, args []string) error {
	allowed, err := d.navigate(ctx, args[0])
	if err != nil || !allowed {
		return err
	}
	fmt.Fprintf(d.out, "showing %s\n", args[0])
	return nil
}

func (d *desk) list(ctx context.Context, args []string) error {
	filter := defaultFilter(d.listLimit)
	for _, status := range args {
		filter.Status = append(filter.Status, models.LetterStatus(status).Normalize())
	}
	letters, err := d.reconciler.Refresh(ctx, filter)
	if err != nil {
		fmt.Fprintf(d.out, "showing last known letters: %s\n", describe(err))
		letters = d.reconciler.Letters()
	}
	w := tabwriter.NewWriter(d.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREFERENCE\tSTATUS\tSTAGE\tHELD BY\t")
	for i := range letters {
		letter := &letters[i]
		marker := ""
		if d.reconciler.Pending(letter.ID) {
			marker = " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s%s\t%s\t%s\t\n", letter.ID, letter.ReferenceNumber, letter.Status(), marker, letter.Stage(), letter.Owner())
	}
	return w.Flush()
}

func (d *desk) show(ctx context.Context, args []string) error {
	letter, ok := d.reconciler.Letter(args[0])
	if !ok {
		var err error
		if letter, err = d.reconciler.RefreshLetter(ctx, args[0]); err != nil {
			return err
		}
	}
	fmt.Fprintf(d.out, "%s  %s\n", letter.ReferenceNumber, letter.Subject)
	fmt.Fprintf(d.out, "  from:     %s\n", letter.Sender)
	fmt.Fprintf(d.out, "  status:   %s (%s)\n", letter.Status(), letter.Stage())
	fmt.Fprintf(d.out, "  held by:  %s\n", letter.Owner())
	if letter.CoveringLetter != nil {
		signed := "unsigned"
		if letter.CoveringLetter.IsSigned {
			signed = "signed"
		}
		fmt.Fprintf(d.out, "  covering: %s (%s, %d documents)\n", letter.CoveringLetter.ReferenceNumber, signed, len(letter.CoveringLetter.DocumentURLs))
	}
	fmt.Fprintf(d.out, "  reports:  %d\n", len(letter.ReportFiles))
	actions := d.reconciler.PermittedActions(ctx, letter.ID)
	names := make([]string, 0, len(actions))
	for _, action := range actions {
		names = append(names, string(action))
	}
	fmt.Fprintf(d.out, "  actions:  %s\n", strings.Join(names, ", "))
	return nil
}

func (d *desk) register(ctx context.Context, args []string) error {
	req := dto.CreateLetterRequest{ReferenceNumber: args[0], Subject: args[1], Sender: args[2]}
	var original *service.Upload
	if len(args) > 3 {
		uploads, closeAll, err := openFiles(args[3:4])
		if err != nil {
			return err
		}
		defer closeAll()
		original = &uploads[0]
	}
	letter, err := d.api.CreateLetter(ctx, req, original)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "registered %s as %s\n", letter.ReferenceNumber, letter.ID)
	return nil
}

// mutate builds the handler for a letter action. The change shows locally at
// once and the store's answer is reported when it arrives.
func mutate(action service.Action) func(d *desk, ctx context.Context, args []string) error {
	return func(d *desk, ctx context.Context, args []string) error {
		m := service.Mutation{LetterID: args[0], Action: action}
		closeAll := func() {}
		switch action {
		case service.ActionForward:
			m.Target = models.NormalizeRole(args[1])
		case service.ActionAttachCovering:
			m.CoveringLetter = dto.CoveringLetterMetadata{ReferenceNumber: args[1]}
			uploads, closer, err := openFiles(args[2:])
			if err != nil {
				return err
			}
			m.Files, closeAll = uploads, closer
		case service.ActionUploadReports:
			uploads, closer, err := openFiles(args[1:])
			if err != nil {
				return err
			}
			m.Files, closeAll = uploads, closer
		}

		err := d.reconciler.Dispatch(m, func(letter *models.Letter, err error) {
			defer closeAll()
			if err != nil {
				fmt.Fprintf(d.out, "\n%s %s rolled back: %s\npatra> ", action, m.LetterID, describe(err))
				return
			}
			fmt.Fprintf(d.out, "\n%s %s confirmed: %s, held by %s\npatra> ", action, m.LetterID, letter.Status(), letter.Owner())
		})
		if err != nil {
			closeAll()
			return err
		}
		fmt.Fprintf(d.out, "%s %s submitted\n", action, m.LetterID)
		return nil
	}
}

func (d *desk) merged(ctx context.Context, args []string) error {
	body, err := d.reconciler.DownloadMerged(ctx, args[0])
	if err != nil {
		return err
	}
	defer body.Close() //nolint:errcheck
	return writeFile(args[1], body, d.out)
}

func (d *desk) export(ctx context.Context, args []string) error {
	format := strings.ToLower(args[0])
	if format != string(service.ExportCSV) && format != string(service.ExportPDF) {
		return fmt.Errorf("unknown export format %q", args[0])
	}
	body, err := d.api.ExportRegister(ctx, format)
	if err != nil {
		return err
	}
	defer body.Close() //nolint:errcheck
	return writeFile(args[1], body, d.out)
}

func (d *desk) forgot(ctx context.Context, args []string) error {
	if err := d.auth.ForgotPassword(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(d.out, "if the email belongs to an active desk, a reset code is on its way")
	return nil
}

func (d *desk) reset(ctx context.Context, args []string) error {
	if err := d.auth.VerifyOTP(ctx, args[0], args[1]); err != nil {
		return err
	}
	if err := d.auth.ResetPassword(ctx, args[0], args[1], args[2]); err != nil {
		return err
	}
	fmt.Fprintln(d.out, "password changed, sign in again")
	return nil
}

func (d *desk) startBackground() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backgrounds {
		return
	}
	d.backgrounds = true
	if d.verifyTick > 0 {
		d.stopVerify = d.session.StartVerification(d.scheduler, d.verifyTick)
	}
	if d.poll > 0 {
		d.reconciler.StartPolling(d.scheduler, pollTask, d.poll, defaultFilter(d.listLimit))
	}
}

func (d *desk) stopBackground() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.backgrounds {
		return
	}
	d.backgrounds = false
	if d.stopVerify != nil {
		d.stopVerify()
		d.stopVerify = nil
	}
	d.scheduler.Cancel(pollTask)
}

func (d *desk) drainEnded() {
	select {
	case outcome := <-d.ended:
		d.stopBackground()
		fmt.Fprintf(d.out, "session ended (%s), sign in again\n", outcome)
	default:
	}
}

// splitFields splits on spaces, keeping double-quoted runs together.
func splitFields(line string) []string {
	var (
		fields  []string
		current strings.Builder
		quoted  bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == ' ' && !quoted:
			if current.Len() > 0 {
				fields = append(fields, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		fields = append(fields, current.String())
	}
	return fields
}

func openFiles(paths []string) ([]service.Upload, func(), error) {
	uploads := make([]service.Upload, 0, len(paths))
	files := make([]*os.File, 0, len(paths))
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		files = append(files, f)
		info, err := f.Stat()
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		uploads = append(uploads, service.Upload{Filename: filepath.Base(path), Size: info.Size(), Content: f})
	}
	return uploads, closeAll, nil
}

func writeFile(path string, body io.Reader, out io.Writer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d bytes to %s\n", n, path)
	return nil
}

func describe(err error) string {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return fmt.Sprintf("%s: %s", appErr.Code, appErr.Message)
	}
	return err.Error()
}

func sortedCommands() []string {
	names := make([]string, 0, len(commands)+1)
	for name := range commands {
		names = append(names, name)
	}
	names = append(names, "help")
	sort.Strings(names)
	return names
}
