package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dkeye/Classroom/internal/app/fsm"
	"github.com/dkeye/Classroom/internal/app/orch"
	"github.com/dkeye/Classroom/internal/domain"
)

var (
	errQuit  = errors.New("quit")
	errUsage = errors.New("usage")
)

type command struct {
	usage string
	run   func(args []string) error
}

// shell maps typed lines onto orchestrator verbs and prints what happens
// on the machines they start.
type shell struct {
	o orch.Orchestrator

	mu  sync.Mutex
	out io.Writer

	commands map[string]command
}

var watchedEvents = []fsm.Event{
	fsm.EventSend, fsm.EventRetry, fsm.EventAccepted, fsm.EventRejected,
	fsm.EventCancel, fsm.EventTimeout, fsm.EventAllowed, fsm.EventAnswered,
}

var watchedNotices = []orch.NoticeKind{
	orch.NoticeInvitationReceived, orch.NoticeInvitationCancelled,
	orch.NoticeApplicationReceived, orch.NoticeApplicationCancelled, orch.NoticeApplicationSucceeded,
	orch.NoticeCameraControlRequested, orch.NoticeMicControlRequested,
	orch.NoticeEndRequested, orch.NoticeInteractionEnded, orch.NoticeAllowedChanged,
	orch.NoticeAllMicMuted, orch.NoticeMembersUpdated, orch.NoticeMicChanged, orch.NoticeCameraChanged,
}

func newShell(o orch.Orchestrator, out io.Writer) *shell {
	s := &shell{o: o, out: out}
	user := func(args []string, i int) (domain.UserID, error) {
		if len(args) <= i {
			return "", errUsage
		}
		return domain.UserID(args[i]), nil
	}
	flag := func(args []string, i int) (bool, error) {
		if len(args) <= i {
			return false, errUsage
		}
		switch args[i] {
		case "on", "yes":
			return true, nil
		case "off", "no":
			return false, nil
		}
		return strconv.ParseBool(args[i])
	}

	s.commands = map[string]command{
		"invite": {"invite <student>", func(a []string) error {
			u, err := user(a, 0)
			if err != nil {
				return err
			}
			return s.watch(s.o.Invite(u))
		}},
		"uninvite": {"uninvite <student>", func(a []string) error {
			u, err := user(a, 0)
			if err != nil {
				return err
			}
			return s.o.CancelInvitation(u)
		}},
		"accept": {"accept <student> | accept (invitation)", func(a []string) error {
			if s.o.Role() == domain.RoleStudent {
				return s.o.AcceptInvitation()
			}
			u, err := user(a, 0)
			if err != nil {
				return err
			}
			return s.o.AcceptApplication(u)
		}},
		"reject": {"reject <student> | reject [manual|webrtc|devices]", func(a []string) error {
			if s.o.Role() == domain.RoleStudent {
				reason := domain.RejectManual
				if len(a) > 0 {
					switch a[0] {
					case "webrtc":
						reason = domain.RejectNotSupportWebRTC
					case "devices":
						reason = domain.RejectNoDevicePermissions
					}
				}
				return s.o.RejectInvitation(reason)
			}
			u, err := user(a, 0)
			if err != nil {
				return err
			}
			return s.o.RejectApplication(u)
		}},
		"apply": {"apply", func([]string) error {
			return s.watch(s.o.SubmitApplication())
		}},
		"withdraw": {"withdraw", func([]string) error {
			return s.o.CancelApplication()
		}},
		"interacting": {"interacting <mic on|off> <camera on|off>", func(a []string) error {
			mic, err := flag(a, 0)
			if err != nil {
				return err
			}
			cam, err := flag(a, 1)
			if err != nil {
				return err
			}
			return s.o.ReportInteracting(mic, cam)
		}},
		"leave": {"leave", func([]string) error {
			return s.watch(s.o.NoticeEndingInteraction())
		}},
		"end": {"end <student> | end all", func(a []string) error {
			u, err := user(a, 0)
			if err != nil {
				return err
			}
			if u == "all" {
				return s.o.EndAllInteraction()
			}
			return s.o.EndInteraction(u)
		}},
		"allow": {"allow on|off", func(a []string) error {
			v, err := flag(a, 0)
			if err != nil {
				return err
			}
			return s.o.SetInteractionAllowed(v)
		}},
		"mute": {"mute on|off", func(a []string) error {
			v, err := flag(a, 0)
			if err != nil {
				return err
			}
			return s.o.MuteAllMics(v)
		}},
		"members": {"members <id>...", func(a []string) error {
			ids := make([]domain.UserID, 0, len(a))
			for _, id := range a {
				ids = append(ids, domain.UserID(id))
			}
			return s.o.BroadcastMembers(ids)
		}},
		"camera": {"camera <student> on|off | camera ok|fail", func(a []string) error {
			if s.o.Role() == domain.RoleStudent {
				return s.answer(a, s.o.AnswerCameraControl, s.o.NotifyCameraChanged)
			}
			u, err := user(a, 0)
			if err != nil {
				return err
			}
			v, err := flag(a, 1)
			if err != nil {
				return err
			}
			return s.watch(s.o.ToggleCamera(u, v))
		}},
		"mic": {"mic <student> on|off | mic ok|fail | mic on|off", func(a []string) error {
			if s.o.Role() == domain.RoleStudent {
				return s.answer(a, s.o.AnswerMicControl, s.o.NotifyMicChanged)
			}
			u, err := user(a, 0)
			if err != nil {
				return err
			}
			v, err := flag(a, 1)
			if err != nil {
				return err
			}
			return s.watch(s.o.ToggleMic(u, v))
		}},
		"sessions": {"sessions", func([]string) error {
			for _, ss := range s.o.Sessions() {
				s.printf("%s %s -> %s [%s]", ss.ID, ss.Protocol, ss.Remote, ss.Machine.State())
			}
			return nil
		}},
		"quit": {"quit", func([]string) error { return errQuit }},
	}
	s.commands["help"] = command{"help", func([]string) error {
		names := make([]string, 0, len(s.commands))
		for n := range s.commands {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			s.printf("  %s", s.commands[n].usage)
		}
		return nil
	}}
	return s
}

// answer handles the student side of camera/mic: ok|fail answers a
// pending control request, on|off reports a local change.
func (s *shell) answer(a []string, reply func(bool) error, report func(bool) error) error {
	if len(a) == 0 {
		return errUsage
	}
	switch a[0] {
	case "ok":
		return reply(false)
	case "fail":
		return reply(true)
	case "on":
		return report(true)
	case "off":
		return report(false)
	}
	return errUsage
}

func (s *shell) exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := s.commands[fields[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", fields[0])
	}
	err := cmd.run(fields[1:])
	if errors.Is(err, errUsage) {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return err
}

func (s *shell) watch(m *fsm.Machine, err error) error {
	if err != nil {
		return err
	}
	for _, ev := range watchedEvents {
		m.On(ev, func(p fsm.Payload) {
			line := fmt.Sprintf("[%s] %s: %s -> %s", m.Name(), p.Event, p.From, p.State)
			if p.RetryCount > 0 {
				line += fmt.Sprintf(" (retry %d)", p.RetryCount)
			}
			if p.Failed {
				line += " failed"
			}
			s.printf("%s", line)
		})
	}
	s.printf("[%s] started in %s", m.Name(), m.State())
	return nil
}

func (s *shell) watchNotices() {
	for _, k := range watchedNotices {
		s.o.OnNotice(k, func(n orch.Notice) {
			s.printf("<%s> from %s session %s", n.Kind, n.From, n.Body.SessionID)
		})
	}
}

func (s *shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}
