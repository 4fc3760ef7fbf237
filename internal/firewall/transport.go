package firewall

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/linuxmuster/linuxmuster-base/internal/config"
	"github.com/linuxmuster/linuxmuster-base/pkg/ssh"
)

// Transport 防火墙的 SSH 通道
type Transport interface {
	Run(ctx context.Context, cmd string) (string, error)
	Download(ctx context.Context, remote string, local string) error
	Upload(ctx context.Context, local string, remote string) error
	Close() error
}

// Dialer 打开 Transport，防火墙不可达时失败
type Dialer func(ctx context.Context) (Transport, error)

type sshTransport struct {
	client *ssh.Client
}

// SSHDialer 使用配置的密钥连接 host
func SSHDialer(cfg config.FirewallConfig, host string) Dialer {
	return func(ctx context.Context) (Transport, error) {
		c := ssh.NewClient(&ssh.Config{Timeout: cfg.ConnectTimeout})
		err := c.Connect(ctx, &ssh.ConnectionInfo{
			Host:     host,
			Port:     cfg.SSHPort,
			Username: cfg.SSHUser,
			KeyFile:  cfg.SSHKeyFile,
		})
		if err != nil {
			return nil, err
		}
		return &sshTransport{client: c}, nil
	}
}

func (t *sshTransport) Run(ctx context.Context, cmd string) (string, error) {
	res, err := t.client.ExecuteCommand(ctx, cmd)
	if err != nil {
		out := ""
		if res != nil {
			out = strings.TrimSpace(res.Output)
		}
		return out, fmt.Errorf("%s: %w (%s)", cmd, err, out)
	}
	return res.Output, nil
}

func (t *sshTransport) Download(_ context.Context, remote string, local string) error {
	_, err := t.client.Download(remote, local)
	return err
}

func (t *sshTransport) Upload(_ context.Context, local string, remote string) error {
	_, err := t.client.Upload(local, remote)
	return err
}

func (t *sshTransport) Close() error { return t.client.Close() }

// MajorVersion 从版本探测输出中提取主版本号，如 "24.7.3_2" -> 24
func MajorVersion(output string) (int, error) {
	f := strings.Fields(output)
	if len(f) == 0 {
		return 0, fmt.Errorf("empty version output")
	}
	v := f[len(f)-1]
	major, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0, fmt.Errorf("unexpected version %q", v)
	}
	return n, nil
}
