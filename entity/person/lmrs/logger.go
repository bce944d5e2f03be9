package lmrs

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "lmrs")
