package mega

import (
	"errors"

	gomega "github.com/t3rm1n4l/go-mega"
)

// sdkSession adapts a logged-in *gomega.Mega to session.
type sdkSession struct {
	m *gomega.Mega
}

func dialSDK(email, password string) (session, error) {
	m := gomega.New()
	if err := m.Login(email, password); err != nil {
		return nil, err
	}
	return &sdkSession{m: m}, nil
}

func (s *sdkSession) UploadFile(localPath, name string) (string, error) {
	root := s.m.FS.GetRoot()
	if root == nil {
		return "", errors.New("account has no root node")
	}
	node, err := s.m.UploadFile(localPath, root, name, nil)
	if err != nil {
		return "", err
	}
	return s.m.Link(node, true)
}

// RootFiles lists the files directly under the account root, where uploads land.
func (s *sdkSession) RootFiles() ([]remoteFile, error) {
	root := s.m.FS.GetRoot()
	if root == nil {
		return nil, errors.New("account has no root node")
	}
	children, err := s.m.FS.GetChildren(root)
	if err != nil {
		return nil, err
	}
	files := make([]remoteFile, 0, len(children))
	for _, n := range children {
		if n.GetType() != gomega.FILE {
			continue
		}
		files = append(files, remoteFile{
			Hash:     n.GetHash(),
			Name:     n.GetName(),
			Size:     n.GetSize(),
			Modified: n.GetTimeStamp(),
		})
	}
	return files, nil
}

// ExportLink returns the public link, key included, of the node with hash.
// The export id in it differs from the node hash.
func (s *sdkSession) ExportLink(hash string) (string, error) {
	node := s.m.FS.HashLookup(hash)
	if node == nil {
		return "", errors.New("node not found in account")
	}
	return s.m.Link(node, true)
}

func (s *sdkSession) DownloadFile(hash, dstPath string) error {
	node := s.m.FS.HashLookup(hash)
	if node == nil {
		return errors.New("node not found in account")
	}
	return s.m.DownloadFile(node, dstPath, nil)
}

// Close is a no-op: the SDK keeps no connection between requests.
func (s *sdkSession) Close() {}
