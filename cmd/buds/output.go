package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	courseentity "github.com/ovaphlow/englishbuds/internal/course/entity"
	"github.com/ovaphlow/englishbuds/internal/profile/entity"
	"github.com/ovaphlow/englishbuds/internal/session"
)

func printState(w io.Writer, st session.State) {
	switch {
	case st.Loading:
		fmt.Fprintln(w, "loading")
	case st.Profile != nil:
		fmt.Fprintf(w, "%s (%s) signed in as %s\n", st.Profile.Name(), st.Profile.Role, st.User.Email)
	case st.User != nil:
		fmt.Fprintf(w, "%s signed in without a usable profile\n", st.User.Email)
	default:
		fmt.Fprintln(w, "not signed in")
	}
}

func printProfile(w io.Writer, p *entity.Profile) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entity.ToRecord(p))
}

func printDashboard(w io.Writer, st session.State) {
	switch st.Dashboard() {
	case session.DashboardLoading:
		fmt.Fprintln(w, "loading")
	case session.DashboardSignIn:
		fmt.Fprintln(w, "Welcome to English Buds! Run `buds signin` or `buds signup` to start.")
	case session.DashboardTeacher:
		p := st.Profile
		fmt.Fprintf(w, "Teacher dashboard for %s\n", p.Name())
		if p.Specialization != nil {
			fmt.Fprintf(w, "  specialization: %s\n", *p.Specialization)
		}
		if p.Bio != nil {
			fmt.Fprintf(w, "  bio: %s\n", *p.Bio)
		}
		if st.IsAdmin() {
			fmt.Fprintln(w, "  admin tools enabled")
		}
	case session.DashboardStudent:
		p := st.Profile
		label := "Student"
		if st.IsParent() {
			label = "Parent"
		}
		fmt.Fprintf(w, "%s dashboard for %s\n", label, p.Name())
		if st.IsStudent() {
			fmt.Fprintf(w, "  level %d, %d stars\n", max(p.Level, 1), p.TotalStars)
		}
	}
}

func printCourses(w io.Writer, courses []courseentity.Course) {
	if len(courses) == 0 {
		fmt.Fprintln(w, "  no courses yet")
		return
	}
	fmt.Fprintln(w, "  courses:")
	for _, c := range courses {
		line := "    " + c.Title
		if c.IsBundle {
			line += " (bundle)"
		}
		if c.Price > 0 {
			line += fmt.Sprintf(" $%.2f", c.Price)
		}
		fmt.Fprintln(w, line)
	}
}

// describe turns resolver errors into a line for the terminal.
func describe(err error) string {
	var verr *entity.ValidationError
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		return "wrong email or password"
	case errors.Is(err, session.ErrDuplicateAccount):
		return "an account with this email already exists"
	case errors.Is(err, session.ErrSessionExpired):
		return "session expired, sign in again"
	case errors.Is(err, session.ErrAuthNetwork):
		return "cannot reach the server: " + err.Error()
	case errors.Is(err, session.ErrNotSignedIn):
		return "not signed in, run `buds signin` first"
	case errors.As(err, &verr):
		parts := make([]string, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			parts = append(parts, f.Field+" ("+f.Tag+")")
		}
		return "invalid " + strings.Join(parts, ", ")
	}
	return err.Error()
}

// readPassword reads without echo from a terminal and falls back to one
// line of input when stdin is piped.
func readPassword(in io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// optional flags leave the patch field nil unless given on the command line

type stringFlag struct{ dst **string }

func (f stringFlag) String() string {
	if f.dst == nil || *f.dst == nil {
		return ""
	}
	return **f.dst
}

func (f stringFlag) Set(v string) error {
	*f.dst = &v
	return nil
}

type intFlag struct{ dst **int }

func (f intFlag) String() string {
	if f.dst == nil || *f.dst == nil {
		return ""
	}
	return strconv.Itoa(**f.dst)
}

func (f intFlag) Set(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*f.dst = &n
	return nil
}

func optString(fs *flag.FlagSet, dst **string, name, usage string) {
	fs.Var(stringFlag{dst}, name, usage)
}

func optInt(fs *flag.FlagSet, dst **int, name, usage string) {
	fs.Var(intFlag{dst}, name, usage)
}
