package protocol

// Key listing grammar, as produced by "lru_crawler metadump":
//
//	key=<urlencoded key> exp=<expiry> la=<last access> cas=<cas> fetch=<yes|no> cls=<class> size=<size>\n
//	...
//	END\r\n
const (
	MarkerKey        = "key="
	MarkerExpiry     = "exp="
	MarkerLastAccess = "la="
	RecordEnd        = "\n"
)

// Value response grammar, as produced by a multi-key "get":
//
//	VALUE <key> <flags> <bytes>\r\n
//	<data>\r\n
//	...
//	END\r\n
const (
	MarkerValue = "VALUE "
	Separator   = ' '
	CRLF        = "\r\n"

	TerminalEnd   = "END\r\n"
	TerminalError = "ERROR\r\n"

	ErrorClientPrefix = "CLIENT_ERROR "
	ErrorServerPrefix = "SERVER_ERROR "
	BusyPrefix        = "BUSY"
)

// Commands
const (
	CmdMetadumpAll = "lru_crawler metadump all\r\n"
	CmdGet         = "get"
)

// Protocol limits
const (
	MaxKeyLength = 250 // Maximum key length in bytes

	// NeverExpires is the expiry memcached reports for items stored without a TTL.
	NeverExpires = -1
)
