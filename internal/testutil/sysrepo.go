package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// StateEnv names the environment variable the fake sysrepo binaries use to
// find their shared state directory.
const StateEnv = "FAKE_SYSREPO"

// Fake sysrepo command names, as found on PATH after InstallSysrepo.
const (
	DaemonCmd     = "sysrepod"
	ClientCmd     = "sysrepo-client"
	SubscriberCmd = "notifications_test_app"
)

// Datastore is the running datastore the fake daemon starts from: one data
// path per line, parents before children.
var Datastore = []string{
	"/ietf-interfaces:interfaces/interface[name='eth0']",
	"/ietf-interfaces:interfaces/interface[name='eth0']/name",
	"/ietf-interfaces:interfaces/interface[name='eth0']/type",
	"/ietf-interfaces:interfaces/interface[name='eth0']/enabled",
	"/ietf-interfaces:interfaces/interface[name='eth0']/description",
	"/ietf-interfaces:interfaces/interface[name='eth0']/ietf-ip:ipv4",
	"/ietf-interfaces:interfaces/interface[name='eth0']/ietf-ip:ipv4/address[ip='192.168.2.100']",
	"/ietf-interfaces:interfaces/interface[name='eth0']/ietf-ip:ipv4/address[ip='192.168.2.100']/ip",
	"/ietf-interfaces:interfaces/interface[name='eth0']/ietf-ip:ipv4/address[ip='192.168.2.100']/prefix-length",
	"/ietf-interfaces:interfaces/interface[name='eth0']/ietf-ip:ipv4/enabled",
	"/ietf-interfaces:interfaces/interface[name='eth0']/ietf-ip:ipv4/mtu",
	"/ietf-interfaces:interfaces/interface[name='eth1']",
	"/ietf-interfaces:interfaces/interface[name='eth1']/name",
	"/ietf-interfaces:interfaces/interface[name='eth1']/type",
}

// fakeDaemon runs until INT or TERM. It resets the change state on start
// and removes its pid file on exit.
const fakeDaemon = `state="$` + StateEnv + `"
if [ "$1" != "-d" ]; then echo "usage: sysrepod -d" >&2; exit 2; fi
rm -f "$state/pending" "$state/changes" "$state/committed"
trap 'rm -f "$state/daemon.pid"; exit 0' INT TERM
echo $$ > "$state/daemon.pid"
while :; do sleep 0.02; done
`

// fakeClient implements connect, delete XPATH and commit against the
// shared datastore. Every command needs a running daemon.
const fakeClient = `state="$` + StateEnv + `"
i=0
while [ ! -e "$state/daemon.pid" ]; do
  i=$((i + 1))
  if [ $i -gt 50 ]; then echo "sysrepo-client: daemon not running" >&2; exit 1; fi
  sleep 0.02
done
case "$1" in
connect)
  ;;
delete)
  xp="$2"
  if [ -z "$xp" ]; then echo "usage: sysrepo-client delete XPATH" >&2; exit 2; fi
  while IFS= read -r line; do
    case "$line" in
    "$xp"|"$xp"/*) printf '%s\n' "$line" >> "$state/pending" ;;
    esac
  done < "$state/datastore"
  ;;
commit)
  if [ -e "$state/pending" ]; then cat "$state/pending" >> "$state/changes"; rm -f "$state/pending"; fi
  : >> "$state/changes"
  touch "$state/committed"
  ;;
*)
  echo "sysrepo-client: unknown command $1" >&2
  exit 2
  ;;
esac
`

// fakeSubscriber subscribes to a schema path and, after the next commit,
// writes one DELETED record per committed change under that path. It then
// idles until INT or TERM and appends its path to the stopped file.
const fakeSubscriber = `state="$` + StateEnv + `"
xp="$1"
log="$2"
if [ -z "$xp" ] || [ -z "$log" ]; then echo "usage: notifications_test_app XPATH LOG" >&2; exit 2; fi
trap 'printf "%s\n" "$xp" >> "$state/stopped"; exit 0' INT TERM
: > "$log"
while [ ! -e "$state/committed" ]; do sleep 0.02; done
tmp=$(mktemp "$state/notif.XXXXXX")
while IFS= read -r line; do
  schema=$(printf '%s\n' "$line" | sed "s/\[[^]]*\]//g")
  case "$schema" in
  "$xp"|"$xp"/*) printf 'DELETED|%s\n' "$line" >> "$tmp" ;;
  esac
done < "$state/changes"
cat "$tmp" >> "$log"
rm -f "$tmp"
while :; do sleep 0.02; done
`

// Sysrepo is an installed set of fake sysrepo binaries.
type Sysrepo struct {
	Bin   string
	State string
}

// InstallSysrepo writes the fake daemon, client and subscriber into a
// fresh bin directory, prepends it to PATH and points StateEnv at a fresh
// state directory seeded with Datastore. Not for use with t.Parallel.
func InstallSysrepo(t *testing.T) *Sysrepo {
	t.Helper()
	s := &Sysrepo{Bin: t.TempDir(), State: t.TempDir()}

	for name, body := range map[string]string{
		DaemonCmd:     fakeDaemon,
		ClientCmd:     fakeClient,
		SubscriberCmd: fakeSubscriber,
	} {
		path := filepath.Join(s.Bin, name)
		if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	data := strings.Join(Datastore, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(s.State, "datastore"), []byte(data), 0o644); err != nil {
		t.Fatalf("write datastore: %v", err)
	}

	t.Setenv("PATH", s.Bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	t.Setenv(StateEnv, s.State)
	return s
}

// Stopped returns the subscription paths of every fake subscriber that
// exited on a signal, in exit order.
func (s *Sysrepo) Stopped(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(s.State, "stopped"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read stopped: %v", err)
	}
	return strings.Fields(string(data))
}

// DaemonRunning reports whether the fake daemon's pid file exists.
func (s *Sysrepo) DaemonRunning() bool {
	_, err := os.Stat(filepath.Join(s.State, "daemon.pid"))
	return err == nil
}
