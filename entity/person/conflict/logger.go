package conflict

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "conflict")
