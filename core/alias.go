package core

import "github.com/sigma67/tendercore/message"

// RequestData is a local alias so the request/timeout files below read
// without a message. qualifier.
type RequestData = message.RequestData
