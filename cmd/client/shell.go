package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/carthagofood/carthago/internal/apperr"
	"github.com/carthagofood/carthago/internal/client/app"
	"github.com/carthagofood/carthago/internal/client/guard"
	"github.com/carthagofood/carthago/internal/client/notify"
	"github.com/carthagofood/carthago/internal/models"
	"github.com/carthagofood/carthago/internal/validation"
)

const helpText = `Commands:
  role <customer|restaurant|rider|admin>  choose the role to sign in as
  login <email|phone>                      sign in with a password
  register                                 create an account
  otp <phone>                              sign in with a one-time code
  whoami                                   show the session
  profile                                  edit your profile
  home                                     show your dashboard path
  notifications                            list notifications
  read <id> | read-all                     mark notifications read
  remove <id> | clear                      delete notifications
  alerts <on|off>                          toggle terminal alerts
  orders                                   your order history (customer)
  nearby <lat> <lon> [radius]              restaurants near you (customer)
  available                                orders ready for pickup (rider)
  approve <restaurant-id>                  approve a restaurant (admin)
  logout | exit`

// lockedWriter serializes writes from the shell and the alert goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// shell is the interactive front end over one client core.
type shell struct {
	app     *app.App
	in      *prompter
	out     io.Writer
	alerter *notify.WriterAlerter

	mu   sync.Mutex
	role models.Role
}

func newShell(in io.Reader, out io.Writer, alerter *notify.WriterAlerter) *shell {
	return &shell{
		in:      newPrompter(in, out),
		out:     out,
		alerter: alerter,
		role:    models.RoleCustomer,
	}
}

// Navigate implements session.Navigator. A hard redirect forgets the role
// chosen at the prompt: the target's role query wins, then the role of the
// session that survived the redirect, then customer.
func (s *shell) Navigate(path string) {
	fmt.Fprintf(s.out, "Redirected to %s\n", path)

	role := models.RoleCustomer
	if s.app != nil {
		if id := s.app.Session.Identity(); id != nil {
			role = id.Role
		}
	}
	if u, err := url.Parse(path); err == nil {
		if r := models.Role(u.Query().Get("role")); r.Valid() {
			role = r
		}
	}
	s.setRole(role)
}

func (s *shell) currentRole() models.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *shell) setRole(r models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = r
}

// run reads commands until exit or end of input.
func (s *shell) run(ctx context.Context) {
	for {
		line, ok := s.in.ask(fmt.Sprintf("carthago(%s)> ", s.currentRole()))
		if !ok {
			return
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			fmt.Fprintln(s.out, "Bye")
			return
		}
		if err := s.exec(ctx, args[0], args[1:]); err != nil {
			s.printError(err)
		}
	}
}

func (s *shell) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help":
		fmt.Fprintln(s.out, helpText)
	case "role":
		return s.chooseRole(args)
	case "login":
		return s.login(ctx, args)
	case "register":
		return s.register(ctx)
	case "otp":
		return s.otp(ctx, args)
	case "whoami":
		s.whoami()
	case "profile":
		return s.profile(ctx)
	case "home":
		if path := guard.Landing(s.app.Session.Snapshot()); path != "" {
			fmt.Fprintln(s.out, path)
		} else {
			fmt.Fprintln(s.out, "Choose a role and sign in")
		}
	case "notifications":
		s.listNotifications()
	case "read":
		if len(args) != 1 {
			return usage("read <id>")
		}
		if !s.app.Notifications.MarkRead(args[0]) {
			fmt.Fprintln(s.out, "Notification not found")
		}
	case "read-all":
		fmt.Fprintf(s.out, "Marked %d read\n", s.app.Notifications.MarkAllRead())
	case "remove":
		if len(args) != 1 {
			return usage("remove <id>")
		}
		if !s.app.Notifications.Remove(args[0]) {
			fmt.Fprintln(s.out, "Notification not found")
		}
	case "clear":
		s.app.Notifications.Clear()
	case "alerts":
		return s.alerts(args)
	case "orders":
		return s.orders(ctx)
	case "nearby":
		return s.nearby(ctx, args)
	case "available":
		return s.available(ctx)
	case "approve":
		return s.approve(ctx, args)
	case "logout":
		return s.app.Session.Logout()
	default:
		fmt.Fprintln(s.out, "Unknown command. Type 'help' for a list of commands.")
	}
	return nil
}

func usage(u string) error {
	return fmt.Errorf("usage: %s", u)
}

func (s *shell) printError(err error) {
	ae := apperr.As(err)
	if ae == nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	if ae.Kind == apperr.KindUnauthorized {
		fmt.Fprintln(s.out, "Your session has expired. Please sign in again.")
		return
	}
	fmt.Fprintf(s.out, "Error: %s\n", ae.Message)
	for _, f := range ae.Fields {
		fmt.Fprintf(s.out, "  %s: %s\n", f.Field, f.Message)
	}
}

// allow applies the view guard for role. A denied view redirects to the
// login view for role, which preselects it for the next sign-in.
func (s *shell) allow(role models.Role) bool {
	d := guard.Check(s.app.Session.Snapshot(), role)
	if !d.Allowed {
		s.Navigate(d.Redirect)
	}
	return d.Allowed
}

func (s *shell) chooseRole(args []string) error {
	if len(args) != 1 || !models.Role(args[0]).Valid() {
		return usage("role <customer|restaurant|rider|admin>")
	}
	s.setRole(models.Role(args[0]))
	return nil
}

func (s *shell) login(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("login <email|phone>")
	}
	password, ok := s.in.ask("Password: ")
	if !ok {
		return nil
	}

	creds := models.LoginCredentials{Password: password}
	if strings.Contains(args[0], "@") {
		creds.Email = args[0]
	} else {
		creds.Phone = args[0]
	}
	if err := s.app.Session.Login(ctx, creds, s.currentRole()); err != nil {
		return err
	}
	s.welcome()
	return nil
}

func (s *shell) register(ctx context.Context) error {
	profile, ok := s.in.registerProfile()
	if !ok {
		return nil
	}
	resp, err := s.app.Session.Register(ctx, profile, s.currentRole())
	if err != nil {
		return err
	}
	if resp.Token == "" {
		msg := resp.Message
		if msg == "" {
			msg = "Your account is awaiting approval."
		}
		fmt.Fprintln(s.out, msg)
		return nil
	}
	s.welcome()
	return nil
}

func (s *shell) otp(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("otp <phone>")
	}
	if err := s.app.Session.RequestOTP(ctx, args[0]); err != nil {
		return err
	}
	code, ok := s.in.ask("Code: ")
	if !ok {
		return nil
	}
	if err := s.app.Session.VerifyOTP(ctx, args[0], code, s.currentRole()); err != nil {
		return err
	}
	s.welcome()
	return nil
}

func (s *shell) welcome() {
	id := s.app.Session.Identity()
	if id == nil {
		return
	}
	s.setRole(id.Role)
	fmt.Fprintf(s.out, "Welcome, %s\n", id.Name)
}

func (s *shell) whoami() {
	snap := s.app.Session.Snapshot()
	fmt.Fprintf(s.out, "Session: %s\n", snap.State)
	id := snap.Identity
	if id == nil {
		id = s.app.Session.Pending()
	}
	if id == nil {
		return
	}
	fmt.Fprintf(s.out, "%s <%s> %s, %s, language %s\n",
		id.Name, id.Email, validation.FormatPhone(id.Phone), id.Role, id.PreferredLanguage)
	if id.IsApproved != nil && !*id.IsApproved {
		fmt.Fprintln(s.out, "Awaiting approval")
	}
}

func (s *shell) profile(ctx context.Context) error {
	id := s.app.Session.Identity()
	if id == nil {
		return apperr.ErrNoIdentity
	}
	update, ok := s.in.profileUpdate(id)
	if !ok {
		return nil
	}
	if update == (models.ProfileUpdate{}) {
		fmt.Fprintln(s.out, "Nothing to update")
		return nil
	}
	if err := s.app.Session.UpdateProfile(ctx, update); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Profile updated")
	return nil
}

func (s *shell) listNotifications() {
	list := s.app.Notifications.List()
	fmt.Fprintf(s.out, "%d notifications, %d unread\n", len(list), s.app.Notifications.UnreadCount())
	for _, n := range list {
		mark := " "
		if !n.Read {
			mark = "*"
		}
		fmt.Fprintf(s.out, "%s %s  %s  [%s] %s: %s\n",
			mark, n.ID, n.CreatedAt.Format("15:04"), n.Type, n.Title, validation.Truncate(n.Message, 80))
	}
}

func (s *shell) alerts(args []string) error {
	if len(args) != 1 {
		return usage("alerts <on|off>")
	}
	switch args[0] {
	case "on":
		s.alerter.SetPermission(notify.PermissionGranted)
	case "off":
		s.alerter.SetPermission(notify.PermissionDenied)
	default:
		return usage("alerts <on|off>")
	}
	fmt.Fprintf(s.out, "Alerts %s\n", s.alerter.Permission())
	return nil
}

func (s *shell) orders(ctx context.Context) error {
	if !s.allow(models.RoleCustomer) {
		return nil
	}
	page, err := s.app.API.OrderHistory(ctx, 1, 10)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%d orders\n", page.Total)
	for _, o := range page.Orders {
		fmt.Fprintf(s.out, "#%s  %s  %s\n", o.ID, o.Status, validation.FormatPrice(o.Total))
	}
	return nil
}

func (s *shell) nearby(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return usage("nearby <lat> <lon> [radius]")
	}
	coords := make([]float64, 0, 3)
	for _, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return usage("nearby <lat> <lon> [radius]")
		}
		coords = append(coords, f)
	}
	radius := 5.0
	if len(coords) == 3 {
		radius = coords[2]
	}
	if !s.allow(models.RoleCustomer) {
		return nil
	}

	list, err := s.app.API.Nearby(ctx, coords[0], coords[1], radius)
	if err != nil {
		return err
	}
	for _, r := range list {
		open := "closed"
		if r.IsOpen {
			open = "open"
		}
		fmt.Fprintf(s.out, "%s  %s  %s  %s\n", r.ID, r.Name, r.Category, open)
	}
	return nil
}

func (s *shell) available(ctx context.Context) error {
	if !s.allow(models.RoleRider) {
		return nil
	}
	list, err := s.app.API.AvailableOrders(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%d orders ready for pickup\n", len(list))
	for _, o := range list {
		fmt.Fprintf(s.out, "#%s  %s  %s\n", o.ID, validation.Truncate(o.DeliveryAddress, 40), validation.FormatPrice(o.Total))
	}
	return nil
}

func (s *shell) approve(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("approve <restaurant-id>")
	}
	if !s.allow(models.RoleAdmin) {
		return nil
	}
	if err := s.app.API.ApproveRestaurant(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Restaurant approved")
	return nil
}
