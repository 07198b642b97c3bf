package upstream

// The endpoint shapes below are opaque wire contracts owned by the
// upstream game provider (spec.md §1/§6): exact paths are preserved
// bit-for-bit from the external contract and MUST NOT be "cleaned up" or
// reshaped — any change here is a compatibility break with the provider,
// not a refactor.
const (
	EndpointAuthorize   = "https://auth.riotgames.com/api/v1/authorization"
	EndpointToken       = "https://auth.riotgames.com/api/v1/token"
	EndpointUserInfo    = "https://auth.riotgames.com/userinfo"
	EndpointEntitlement = "https://entitlements.auth.riotgames.com/api/token/v1"
	EndpointGeoRegion   = "https://riot-geo.pas.si.riotgames.com/pas/v1/product/valorant"

	EndpointPDFmt  = "https://pd.%s.a.pvp.net"
	EndpointGLZFmt = "https://glz-%s-1.%s.a.pvp.net"

	EndpointStaticCDN = "https://valorant-api.com/v1"
	EndpointVersionManifest = "https://valorant-api.com/v1/version"
)
