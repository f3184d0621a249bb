// Command buds is a terminal client for the English Buds API. It keeps one
// session per API in a local sqlite file and resolves the signed-in
// user's profile the same way the app does.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ovaphlow/englishbuds/internal/backend"
	"github.com/ovaphlow/englishbuds/internal/config"
	courseentity "github.com/ovaphlow/englishbuds/internal/course/entity"
	"github.com/ovaphlow/englishbuds/internal/credstore"
	"github.com/ovaphlow/englishbuds/internal/profile/entity"
	"github.com/ovaphlow/englishbuds/internal/session"
	"github.com/ovaphlow/englishbuds/pkg/utilities"
)

const usage = `usage: buds <command> [flags]

commands:
  signin    -email EMAIL           sign in; the password is prompted
  signup    -email EMAIL -role ROLE [-name NAME]
  signout                          sign out on every device
  whoami                           show the resolved session
  profile                          print the profile as JSON
  update    [-display-name ...]    edit profile fields
  dashboard                        show the dashboard for the current role
  watch                            follow auth changes until interrupted
`

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run returns the process exit code: 0 on success, 1 on a failed command,
// 2 on a usage error.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "buds: unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	fs := flag.NewFlagSet("buds "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	exec := cmd(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	cfg, err := config.ClientFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "buds: %v\n", err)
		return 1
	}
	logCfg := utilities.ConfigFromEnv()
	logCfg.Stderr = true
	if os.Getenv("LOG_LEVEL") == "" && !logCfg.Dev {
		logCfg.Level = "warn"
	}
	lg, err := utilities.Init(logCfg)
	if err != nil {
		fmt.Fprintf(stderr, "buds: init logger: %v\n", err)
		return 1
	}
	defer lg.Sync()

	a, err := newApp(cfg, lg.Sugar(), stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "buds: %v\n", err)
		return 1
	}
	defer a.close()

	if err := exec(ctx, a); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(stderr, "buds %s: %v\n", args[0], err)
			fs.Usage()
			return 2
		}
		fmt.Fprintf(stderr, "buds %s: %s\n", args[0], describe(err))
		return 1
	}
	return 0
}

type usageError string

func (e usageError) Error() string { return string(e) }

// command registers its flags on fs and returns the action to run once
// they are parsed.
type command func(fs *flag.FlagSet) func(ctx context.Context, a *app) error

var commands = map[string]command{
	"signin":    signinCmd,
	"signup":    signupCmd,
	"signout":   signoutCmd,
	"whoami":    whoamiCmd,
	"profile":   profileCmd,
	"update":    updateCmd,
	"dashboard": dashboardCmd,
	"watch":     watchCmd,
}

type app struct {
	cfg      config.Client
	logger   *zap.SugaredLogger
	store    *credstore.Store
	auth     *backend.AuthClient
	resolver *session.Resolver
	courses  *backend.CourseClient
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
}

func newApp(cfg config.Client, logger *zap.SugaredLogger, stdin io.Reader, stdout, stderr io.Writer) (*app, error) {
	store, err := credstore.Open(cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{Timeout: cfg.RequestTimeout}
	auth := backend.NewAuthClient(cfg.APIURL, store, logger,
		backend.WithHTTPClient(hc),
		backend.WithRefreshMargin(cfg.RefreshMargin),
		backend.WithPush(cfg.Push),
	)
	profiles := backend.NewProfileClient(cfg.APIURL, auth, hc)
	r := session.NewResolver(auth, profiles, logger, session.WithFetchTimeout(cfg.RequestTimeout))
	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		auth:     auth,
		resolver: r,
		courses:  backend.NewCourseClient(cfg.APIURL, auth, hc),
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
	}, nil
}

func (a *app) close() {
	a.resolver.Close()
	a.auth.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warnw("close credential store", "err", err)
	}
}

// start resolves the stored session and waits until the profile for it
// has been fetched.
func (a *app) start(ctx context.Context) (session.State, error) {
	a.resolver.Start(ctx)
	return a.idle(ctx)
}

func (a *app) idle(ctx context.Context) (session.State, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*a.cfg.RequestTimeout)
	defer cancel()
	if err := a.resolver.WaitIdle(ctx); err != nil {
		return session.State{}, err
	}
	return a.resolver.CurrentState(), nil
}

func signinCmd(fs *flag.FlagSet) func(context.Context, *app) error {
	email := fs.String("email", "", "account email")
	return func(ctx context.Context, a *app) error {
		if *email == "" {
			return usageError("-email is required")
		}
		if _, err := a.start(ctx); err != nil {
			return err
		}
		pw, err := readPassword(a.stdin, a.stderr, "Password: ")
		if err != nil {
			return err
		}
		if _, err := a.resolver.SignIn(ctx, *email, pw); err != nil {
			return err
		}
		st, err := a.idle(ctx)
		if err != nil {
			return err
		}
		printState(a.stdout, st)
		return nil
	}
}

func signupCmd(fs *flag.FlagSet) func(context.Context, *app) error {
	email := fs.String("email", "", "account email")
	role := fs.String("role", string(entity.RoleStudent), "student, teacher or parent")
	name := fs.String("name", "", "display name")
	return func(ctx context.Context, a *app) error {
		if *email == "" {
			return usageError("-email is required")
		}
		r, err := entity.ParseRole(*role)
		if err != nil {
			return usageError(err.Error())
		}
		if _, err := a.start(ctx); err != nil {
			return err
		}
		pw, err := readPassword(a.stdin, a.stderr, "Choose a password: ")
		if err != nil {
			return err
		}
		if _, err := a.resolver.SignUp(ctx, *email, pw, r, *name); err != nil {
			return err
		}
		st, err := a.idle(ctx)
		if err != nil {
			return err
		}
		printState(a.stdout, st)
		return nil
	}
}

func signoutCmd(_ *flag.FlagSet) func(context.Context, *app) error {
	return func(ctx context.Context, a *app) error {
		st, err := a.start(ctx)
		if err != nil {
			return err
		}
		if st.User == nil {
			fmt.Fprintln(a.stdout, "not signed in")
			return nil
		}
		if err := a.resolver.SignOut(ctx); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "signed out %s\n", st.User.Email)
		return nil
	}
}

func whoamiCmd(fs *flag.FlagSet) func(context.Context, *app) error {
	check := fs.Bool("check", false, "confirm the session with the server")
	return func(ctx context.Context, a *app) error {
		if _, err := a.start(ctx); err != nil {
			return err
		}
		if *check {
			if err := a.resolver.Refresh(ctx); err != nil {
				return err
			}
		}
		st, err := a.idle(ctx)
		if err != nil {
			return err
		}
		printState(a.stdout, st)
		return nil
	}
}

func profileCmd(_ *flag.FlagSet) func(context.Context, *app) error {
	return func(ctx context.Context, a *app) error {
		st, err := a.start(ctx)
		if err != nil {
			return err
		}
		if st.Profile == nil {
			return errNoProfile(st)
		}
		return printProfile(a.stdout, st.Profile)
	}
}

func updateCmd(fs *flag.FlagSet) func(context.Context, *app) error {
	var patch entity.Patch
	optString(fs, &patch.DisplayName, "display-name", "name shown in the app")
	optString(fs, &patch.AvatarURL, "avatar-url", "avatar image URL")
	optString(fs, &patch.FirstName, "first-name", "first name")
	optString(fs, &patch.LastName, "last-name", "last name")
	optString(fs, &patch.DateOfBirth, "date-of-birth", "YYYY-MM-DD")
	optString(fs, &patch.Gender, "gender", "gender")
	optString(fs, &patch.Language, "language", "preferred language")
	optString(fs, &patch.Phone, "phone", "E.164 phone number")
	optString(fs, &patch.Bio, "bio", "teacher bio")
	optString(fs, &patch.Specialization, "specialization", "teacher specialization")
	optInt(fs, &patch.TotalStars, "total-stars", "student star count")
	optInt(fs, &patch.Level, "level", "student level")
	return func(ctx context.Context, a *app) error {
		if patch.Empty() {
			return usageError("nothing to update")
		}
		st, err := a.start(ctx)
		if err != nil {
			return err
		}
		if st.User == nil {
			return session.ErrNotSignedIn
		}
		if err := a.resolver.UpdateProfile(ctx, patch); err != nil {
			return err
		}
		st, err = a.idle(ctx)
		if err != nil {
			return err
		}
		if st.Profile == nil {
			return errNoProfile(st)
		}
		return printProfile(a.stdout, st.Profile)
	}
}

func dashboardCmd(_ *flag.FlagSet) func(context.Context, *app) error {
	return func(ctx context.Context, a *app) error {
		st, err := a.start(ctx)
		if err != nil {
			return err
		}
		printDashboard(a.stdout, st)
		if st.Profile == nil {
			return nil
		}
		var courses []courseentity.Course
		switch st.Dashboard() {
		case session.DashboardTeacher:
			courses, err = a.courses.TeacherCourses(ctx, st.User.ID)
		case session.DashboardStudent:
			courses, err = a.courses.PurchasedCourses(ctx)
		}
		if err != nil {
			// the dashboard still renders without its course list
			a.logger.Warnw("load courses", "err", err)
			fmt.Fprintf(a.stdout, "  courses unavailable: %s\n", describe(err))
			return nil
		}
		printCourses(a.stdout, courses)
		return nil
	}
}

func watchCmd(_ *flag.FlagSet) func(context.Context, *app) error {
	return func(ctx context.Context, a *app) error {
		a.resolver.Start(ctx)
		for st := range a.resolver.Watch(ctx) {
			fmt.Fprintf(a.stdout, "%s ", time.Now().Format(time.TimeOnly))
			printState(a.stdout, st)
		}
		return nil
	}
}

func errNoProfile(st session.State) error {
	if st.User == nil {
		return session.ErrNotSignedIn
	}
	return fmt.Errorf("%s has no usable profile", st.User.Email)
}
