package trust

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type ClassifierSuite struct {
	suite.Suite
	classifier *Classifier
}

func TestClassifierSuite(t *testing.T) {
	suite.Run(t, new(ClassifierSuite))
}

func (s *ClassifierSuite) SetupTest() {
	s.classifier = NewClassifier([]string{"pref.osaka.jp", "e-gov.example.jp"})
}

func (s *ClassifierSuite) TestTrusted() {
	s.Run("lg.jp suffix is trusted", func() {
		s.True(s.classifier.Trusted("https://www.city.setagaya.lg.jp/kurashi/kaisou.html"))
	})

	s.Run("go.jp suffix is trusted", func() {
		s.True(s.classifier.Trusted("https://www.mhlw.go.jp/page"))
	})

	s.Run("allow-listed domain is trusted", func() {
		s.True(s.classifier.Trusted("https://www.pref.osaka.jp/kaisou"))
	})

	s.Run("subdomain of allow-listed domain is trusted", func() {
		s.True(s.classifier.Trusted("https://portal.e-gov.example.jp/form"))
	})

	s.Run("unrelated commercial host is untrusted", func() {
		s.False(s.classifier.Trusted("https://blog.example.com/kaisou-guide"))
	})

	s.Run("suffix must align on a label boundary", func() {
		// evil-pref.osaka.jp.example.com must not match the allow-list
		s.False(s.classifier.Trusted("https://pref.osaka.jp.example.com/"))
	})

	s.Run("case insensitive host match", func() {
		s.True(s.classifier.Trusted("https://WWW.City.Nagoya.LG.JP/"))
	})
}

func (s *ClassifierSuite) TestMalformedInputIsUntrusted() {
	for _, raw := range []string{
		"",
		"not a url",
		"http://",
		"://missing-scheme",
		"mailto:someone@example.jp",
	} {
		s.False(s.classifier.Trusted(raw), "input %q", raw)
	}
}

func (s *ClassifierSuite) TestWarn() {
	s.Run("empty URL never warns", func() {
		s.False(s.classifier.Warn(""))
	})

	s.Run("untrusted URL warns", func() {
		s.True(s.classifier.Warn("https://example.com/x"))
	})

	s.Run("trusted URL does not warn", func() {
		s.False(s.classifier.Warn("https://city.example.lg.jp/x"))
	})
}

func (s *ClassifierSuite) TestEmptyAllowList() {
	c := NewClassifier(nil)
	s.True(c.Trusted("https://city.example.lg.jp/"))
	s.False(c.Trusted("https://www.pref.osaka.jp/"))
}
