package ssh

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/sftp"
)

func (c *Client) sftpClient() (*sftp.Client, error) {
	c.mutex.RLock()
	conn := c.connection
	c.mutex.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("SSH connection not established")
	}
	return sftp.NewClient(conn)
}

// Download 通过 SFTP 下载远程文件
func (c *Client) Download(remote string, local string) (int64, error) {
	sc, err := c.sftpClient()
	if err != nil {
		return 0, err
	}
	defer sc.Close()

	src, err := sc.Open(remote)
	if err != nil {
		return 0, fmt.Errorf("open remote %s: %w", remote, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return 0, err
	}
	tmp := local + ".part"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("download %s: %w", remote, err)
	}
	return n, os.Rename(tmp, local)
}

// Upload 通过 SFTP 上传本地文件
func (c *Client) Upload(local string, remote string) (int64, error) {
	sc, err := c.sftpClient()
	if err != nil {
		return 0, err
	}
	defer sc.Close()

	src, err := os.Open(local)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := sc.OpenFile(remote, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		return 0, fmt.Errorf("open remote %s: %w", remote, err)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("upload %s: %w", remote, err)
	}
	return n, nil
}
