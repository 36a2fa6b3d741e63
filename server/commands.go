package server

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/filewire/command"
	"github.com/opd-ai/filewire/health"
	"github.com/opd-ai/filewire/poll"
	"github.com/opd-ai/filewire/session"
	"github.com/opd-ai/filewire/transfer"
)

// Protocol responses. These exact byte sequences are the wire contract;
// clients pattern-match on them.
const (
	respUploadOK      = "SUCCESS: File uploaded\n"
	respInvalidHeader = "ERROR: Invalid file transfer header\n"
	respCannotCreate  = "ERROR: Cannot create file\n"
	respNotFound      = "ERROR: File not found\n"
	respEndOfList     = "END_OF_LIST\n"
	respDirChanged    = "OK: Directory changed\n"
	respDeleted       = "SUCCESS: File deleted\n"
	respRenamed       = "SUCCESS: File renamed\n"
	respBadRename     = "ERROR: Invalid rename command\n"
	respUnknown       = "ERROR: Unknown command\n"
	respCannotList    = "ERROR: Cannot list directory\n"
	respNoCwd         = "ERROR: Cannot get current directory\n"
	respCannotChdir   = "ERROR: Cannot change directory\n"
	respCannotDelete  = "ERROR: Cannot delete file\n"
	respCannotRename  = "ERROR: Cannot rename file\n"
	respOverflow      = "ERROR: Buffer overflow - connection terminated\n"
)

// bulkThreshold is the chunk count past which socket buffers get
// widened before a download starts.
const bulkThreshold = 100_000

// dispatchCommand routes one complete command line. Stateful commands
// (upload, get) mutate the record; the rest write their response and
// leave the record in command mode.
func (s *Server) dispatchCommand(rec *session.Record, line string) {
	verb, args := command.Split(line)

	switch verb {
	case "upload":
		rec.BeginReceive(transfer.NewReceiver(s.cfg.ReceiveDir))
	case "get":
		s.handleGet(rec, args)
	case "ls":
		conn := poll.Conn{FD: rec.FD}
		if err := handleList(conn); err != nil {
			s.reply(rec, respCannotList)
		}
	case "pwd":
		s.reply(rec, handlePwd())
	case "cd":
		s.reply(rec, handleChdir(args))
	case "delete":
		s.reply(rec, handleDelete(args))
	case "rename":
		s.reply(rec, handleRename(args))
	case "health":
		s.reply(rec, health.Report())
	case "":
		// Bare newline, nothing to do.
	default:
		s.reply(rec, respUnknown)
	}
}

// handleGet starts an outbound transfer. Errors opening the file map to
// the not-found response; an accepted transfer arms writable interest
// and the event loop streams chunks from there.
func (s *Server) handleGet(rec *session.Record, name string) {
	snd, err := transfer.NewSender(name)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleGet",
			"peer":     rec.Addr,
			"file":     name,
			"error":    err.Error(),
		}).Warn("Download request refused")
		s.reply(rec, respNotFound)
		return
	}

	if snd.TotalChunks() > bulkThreshold {
		tuneForBulk(rec.FD)
	}

	rec.BeginSend(snd)
	if err := s.poller.Modify(rec.FD, true); err != nil {
		rec.EndTransfer()
		s.reply(rec, respNotFound)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleGet",
		"peer":     rec.Addr,
		"file":     name,
		"chunks":   snd.TotalChunks(),
	}).Info("Starting download")
}

// handleList writes one line per directory entry followed by the list
// terminator. Entries that fail to stat are skipped.
func handleList(w io.Writer) error {
	entries, err := os.ReadDir(".")
	if err != nil {
		return fmt.Errorf("reading directory: %w", err)
	}

	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "- \U0001F4C1 %s (Directory)\n", e.Name())
		} else {
			fmt.Fprintf(&b, "- \U0001F4C4 %s (File)\n", e.Name())
		}
	}
	b.WriteString(respEndOfList)

	return poll.WriteAll(w, []byte(b.String()))
}

func handlePwd() string {
	dir, err := os.Getwd()
	if err != nil {
		return respNoCwd
	}
	return dir + "\n"
}

// handleChdir changes the process working directory, so it affects all
// connected clients.
func handleChdir(dir string) string {
	if err := os.Chdir(dir); err != nil {
		return respCannotChdir
	}
	return respDirChanged
}

func handleDelete(name string) string {
	if name == "" {
		return respCannotDelete
	}
	if err := os.Remove(filepath.Clean(name)); err != nil {
		return respCannotDelete
	}
	return respDeleted
}

// handleRename expects "old new"; anything else is a malformed rename.
func handleRename(args string) string {
	oldName, newName, ok := strings.Cut(args, " ")
	if !ok || oldName == "" || strings.TrimSpace(newName) == "" {
		return respBadRename
	}
	if err := os.Rename(oldName, strings.TrimSpace(newName)); err != nil {
		return respCannotRename
	}
	return respRenamed
}
