package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// Attachment はメールに添付するファイル。
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message は送信するメール。
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Notifier はメール送信のインターフェース。
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// DefaultSMTPTimeout は接続から送信完了までの既定の制限時間。
const DefaultSMTPTimeout = 30 * time.Second

// sendMailFunc はsmtp.SendMailと同じシグネチャ。テストで差し替える。
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier はSTARTTLS対応のSMTPサーバー経由でメールを送信する。
type SMTPNotifier struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
	now      func() time.Time
}

// NewSMTPNotifier はSMTPNotifierを生成する。
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}
	n := &SMTPNotifier{cfg: cfg, now: time.Now}
	n.sendMail = n.dialAndSend
	return n
}

// Send はメールを送信する。サーバーが対応していればSTARTTLSに切り替える。
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := n.build(msg)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	if err := n.sendMail(addr, auth, n.cfg.From, []string{msg.To}, raw); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", msg.To, err)
	}
	return nil
}

// dialAndSend はsmtp.SendMailと同じ手順で送信するが、接続と読み書きに制限時間をかける。
func (n *SMTPNotifier) dialAndSend(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := net.DialTimeout("tcp", addr, n.cfg.Timeout)
	if err != nil {
		return err
	}
	if err := conn.SetDeadline(time.Now().Add(n.cfg.Timeout)); err != nil {
		conn.Close()
		return err
	}

	host, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (n *SMTPNotifier) build(msg Message) ([]byte, error) {
	if strings.ContainsAny(msg.To+msg.Subject, "\r\n") {
		return nil, errors.New("header values must not contain newlines")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	var head bytes.Buffer
	fmt.Fprintf(&head, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&head, "To: %s\r\n", msg.To)
	fmt.Fprintf(&head, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&head, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	head.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&head, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	tw, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := tw.Write([]byte(msg.Body)); err != nil {
		return nil, err
	}

	for _, a := range msg.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		aw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {ct},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename})},
		})
		if err != nil {
			return nil, err
		}
		if err := writeBase64Lines(aw, a.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	head.Write(body.Bytes())
	return head.Bytes(), nil
}

// writeBase64Lines はRFC 2045に従い76文字ごとに改行したbase64を書き込む。
func writeBase64Lines(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := w.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err := w.Write([]byte(encoded + "\r\n"))
	return err
}

var _ Notifier = (*SMTPNotifier)(nil)
